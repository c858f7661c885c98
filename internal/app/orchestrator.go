package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kashsuks/lockdown-winners/internal/core"
	"github.com/kashsuks/lockdown-winners/internal/domain"
	"github.com/kashsuks/lockdown-winners/internal/protocol"
)

// Orchestrator drives the connection lifecycle: join/leave, message
// fan-out and voice signaling relay. It owns no transport; adapters
// register connections and feed it decoded events.
type Orchestrator struct {
	Registry  *core.Registry
	Directory *core.Directory

	// mu serializes every state-changing event together with its
	// fan-out. Append and broadcast must be one critical section or
	// two members could observe the same session's messages in a
	// different order.
	mu sync.Mutex
}

func New(reg *core.Registry, dir *core.Directory) *Orchestrator {
	return &Orchestrator{Registry: reg, Directory: dir}
}

// Connect registers a freshly accepted transport connection (Unbound).
func (o *Orchestrator) Connect(cid domain.ConnID, conn core.SignalConnection) {
	o.Directory.Register(cid, conn)
}

// Join binds the connection to a session. The joiner gets the full
// message log back point-to-point; everyone else in the session gets a
// user-joined notice.
func (o *Orchestrator) Join(cid domain.ConnID, sessionID domain.SessionID, username string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.Directory.Lookup(cid)
	if !ok {
		return
	}
	if b.State != core.StateUnbound {
		log.Warn().Str("module", "app").Str("conn", string(cid)).Msg("join on already bound connection, dropped")
		return
	}

	member := domain.NewMember(username, cid)
	history, err := o.Registry.AddMember(sessionID, member)
	if err != nil {
		log.Info().Str("module", "app").Str("session", string(sessionID)).Msg("join rejected, session not found")
		o.sendTo(cid, protocol.EventError, protocol.ErrorEvent{Message: "Session not found"})
		return
	}
	if err := o.Directory.Bind(cid, sessionID, member.ID); err != nil {
		// Connection vanished between Lookup and Bind; undo membership.
		o.Registry.RemoveMember(sessionID, member.ID)
		log.Warn().Err(err).Str("module", "app").Str("conn", string(cid)).Msg("bind failed, join rolled back")
		return
	}

	o.sendTo(cid, protocol.EventSessionJoined, protocol.SessionJoined{
		SessionID: sessionID,
		Messages:  history,
		UserID:    member.ID,
		Username:  member.Username,
	})
	o.broadcast(sessionID, protocol.EventUserJoined, protocol.Presence{
		UserID:   member.ID,
		Username: member.Username,
	}, member.ID)
	log.Info().Str("module", "app").Str("session", string(sessionID)).Str("user", string(member.ID)).Str("username", member.Username).Msg("user joined")
}

// Send appends a chat message and fans it out to the whole session,
// sender included. Unbound connections and in-flight races with a
// disconnect drop the message silently.
func (o *Orchestrator) Send(cid domain.ConnID, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.Directory.Lookup(cid)
	if !ok || b.State != core.StateBound {
		log.Debug().Str("module", "app").Str("conn", string(cid)).Msg("message from unbound connection, dropped")
		return
	}
	msg, err := o.Registry.AppendMessage(b.Session, b.User, text)
	if err != nil {
		log.Debug().Err(err).Str("module", "app").Str("conn", string(cid)).Msg("message raced teardown, dropped")
		return
	}
	o.broadcast(b.Session, protocol.EventNewMessage, msg, "")
}

// Disconnect tears down whatever the connection was bound to. Safe to
// call more than once and from both the leave path and the transport's
// read-loop exit.
func (o *Orchestrator) Disconnect(cid domain.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.Directory.Close(cid)
	if !ok || b.State != core.StateBound {
		return
	}
	m, ok := o.Registry.RemoveMember(b.Session, b.User)
	if !ok {
		return
	}
	o.broadcast(b.Session, protocol.EventUserLeft, protocol.Presence{
		UserID:   m.ID,
		Username: m.Username,
	}, "")
	log.Info().Str("module", "app").Str("session", string(b.Session)).Str("user", string(m.ID)).Msg("user left")
}

// RelayOffer forwards an opaque SDP offer to the target user.
func (o *Orchestrator) RelayOffer(cid domain.ConnID, target domain.UserID, offer json.RawMessage) {
	o.relay(cid, target, protocol.EventVoiceOffer, func(from domain.UserID) any {
		return protocol.VoiceOfferRelay{Offer: offer, From: from}
	})
}

// RelayAnswer forwards an opaque SDP answer to the target user.
func (o *Orchestrator) RelayAnswer(cid domain.ConnID, target domain.UserID, answer json.RawMessage) {
	o.relay(cid, target, protocol.EventVoiceAnswer, func(from domain.UserID) any {
		return protocol.VoiceAnswerRelay{Answer: answer, From: from}
	})
}

// RelayICECandidate forwards an opaque ICE candidate to the target user.
func (o *Orchestrator) RelayICECandidate(cid domain.ConnID, target domain.UserID, candidate json.RawMessage) {
	o.relay(cid, target, protocol.EventVoiceICE, func(from domain.UserID) any {
		return protocol.VoiceICERelay{Candidate: candidate, From: from}
	})
}

// relay resolves the target by user identity alone — deliberately
// across session boundaries — and delivers point-to-point. A target
// that is not bound anywhere is dropped with a log line; the source
// gets no failure signal and relies on its own timeout.
func (o *Orchestrator) relay(cid domain.ConnID, target domain.UserID, event protocol.EventType, body func(from domain.UserID) any) {
	b, ok := o.Directory.Lookup(cid)
	if !ok || b.State != core.StateBound {
		log.Debug().Str("module", "app").Str("conn", string(cid)).Str("event", string(event)).Msg("signal from unbound connection, dropped")
		return
	}
	conn, ok := o.Directory.ResolveUser(target)
	if !ok {
		log.Info().Str("module", "app").Str("event", string(event)).Str("target", string(target)).Msg("signal target unresolvable, dropped")
		return
	}
	frame, err := protocol.Encode(event, body(b.User))
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("event", string(event)).Msg("encode relay")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app").Str("event", string(event)).Str("target", string(target)).Msg("relay delivery dropped")
	}
}

// sendTo delivers one event point-to-point by connection identity.
func (o *Orchestrator) sendTo(cid domain.ConnID, event protocol.EventType, body any) {
	conn, ok := o.Directory.Conn(cid)
	if !ok {
		return
	}
	frame, err := protocol.Encode(event, body)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("event", string(event)).Msg("encode event")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app").Str("conn", string(cid)).Str("event", string(event)).Msg("delivery dropped")
	}
}

// broadcast fans an event out to every member of a session, minus an
// optional excluded user. Delivery is fire-and-forget: a member with a
// full send buffer misses the event rather than stalling the session.
func (o *Orchestrator) broadcast(sessionID domain.SessionID, event protocol.EventType, body any, except domain.UserID) {
	frame, err := protocol.Encode(event, body)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("event", string(event)).Msg("encode broadcast")
		return
	}
	sent, dropped := 0, 0
	for _, m := range o.Registry.Members(sessionID) {
		if except != "" && m.ID == except {
			continue
		}
		conn, ok := o.Directory.Conn(m.Conn)
		if !ok {
			// Member mid-teardown; its own disconnect handler cleans up.
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			dropped++
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app").Str("session", string(sessionID)).Str("event", string(event)).Int("sent_to", sent).Int("dropped", dropped).Msg("broadcast result")
}
