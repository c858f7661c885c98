package app

import (
	"encoding/json"
	"regexp"
	"sync"
	"testing"

	"github.com/kashsuks/lockdown-winners/internal/core"
	"github.com/kashsuks/lockdown-winners/internal/domain"
	"github.com/kashsuks/lockdown-winners/internal/protocol"
)

// recordConn captures every frame delivered to one fake client.
type recordConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *recordConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *recordConn) Close() {}

func (c *recordConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := protocol.ParseEnvelope(f)
		if err != nil {
			t.Fatalf("delivered frame is not an envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

// byEvent filters the delivered envelopes to one event type.
func (c *recordConn) byEvent(t *testing.T, event protocol.EventType) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, env := range c.envelopes(t) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func decodeInto(t *testing.T, env protocol.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
}

func newOrchestrator() *Orchestrator {
	return New(core.NewRegistry(), core.NewDirectory())
}

// connect registers a fake client and returns its recorder.
func connect(o *Orchestrator, cid domain.ConnID) *recordConn {
	c := &recordConn{}
	o.Connect(cid, c)
	return c
}

// join runs the join flow and returns the session-joined payload.
func join(t *testing.T, o *Orchestrator, cid domain.ConnID, c *recordConn, sessionID domain.SessionID, username string) protocol.SessionJoined {
	t.Helper()
	o.Join(cid, sessionID, username)
	joined := c.byEvent(t, protocol.EventSessionJoined)
	if len(joined) != 1 {
		t.Fatalf("got %d session-joined events, want 1", len(joined))
	}
	var p protocol.SessionJoined
	decodeInto(t, joined[0], &p)
	return p
}

func TestJoin_RoundTripLogReplay(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	aliceConn := connect(o, "conn-alice")
	alice := join(t, o, "conn-alice", aliceConn, sessionID, "alice")
	if alice.SessionID != sessionID || alice.Username != "alice" {
		t.Fatalf("session-joined=%+v", alice)
	}
	if len(alice.Messages) != 0 {
		t.Fatalf("joiner of a fresh session got %d messages, want 0", len(alice.Messages))
	}

	o.Send("conn-alice", "hi")

	bobConn := connect(o, "conn-bob")
	bob := join(t, o, "conn-bob", bobConn, sessionID, "bob")
	if len(bob.Messages) != 1 {
		t.Fatalf("bob got %d replayed messages, want 1", len(bob.Messages))
	}
	if got := bob.Messages[0]; got.Text != "hi" || got.UserID != alice.UserID {
		t.Fatalf("replayed message=%+v, want text=hi from %s", got, alice.UserID)
	}
}

func TestJoin_DefaultUsername(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	c := connect(o, "conn-1")
	p := join(t, o, "conn-1", c, sessionID, "")

	want := regexp.MustCompile(`^User-\d{1,3}$`)
	if !want.MatchString(p.Username) {
		t.Fatalf("assigned username %q does not match %s", p.Username, want)
	}
}

func TestJoin_UnknownSessionYieldsErrorAndNoMember(t *testing.T) {
	o := newOrchestrator()

	c := connect(o, "conn-1")
	o.Join("conn-1", "no-such-session", "alice")

	errs := c.byEvent(t, protocol.EventError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
	var e protocol.ErrorEvent
	decodeInto(t, errs[0], &e)
	if e.Message != "Session not found" {
		t.Fatalf("error message=%q, want %q", e.Message, "Session not found")
	}
	if got := c.byEvent(t, protocol.EventSessionJoined); len(got) != 0 {
		t.Fatal("joiner got session-joined despite unknown session")
	}
	if got := len(o.Registry.List()); got != 0 {
		t.Fatalf("registry holds %d sessions, want 0 — a member leaked", got)
	}

	// The failed join leaves the connection Unbound; a later valid join works.
	sessionID := o.Registry.CreateSession()
	join(t, o, "conn-1", c, sessionID, "alice")
}

func TestJoin_BroadcastGoesToOthersOnly(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	aliceConn := connect(o, "conn-alice")
	join(t, o, "conn-alice", aliceConn, sessionID, "alice")

	bobConn := connect(o, "conn-bob")
	bob := join(t, o, "conn-bob", bobConn, sessionID, "Bob")

	notices := aliceConn.byEvent(t, protocol.EventUserJoined)
	if len(notices) != 1 {
		t.Fatalf("alice got %d user-joined events, want 1", len(notices))
	}
	var p protocol.Presence
	decodeInto(t, notices[0], &p)
	if p.UserID != bob.UserID || p.Username != "Bob" {
		t.Fatalf("user-joined=%+v, want bob", p)
	}
	if got := bobConn.byEvent(t, protocol.EventUserJoined); len(got) != 0 {
		t.Fatal("joiner was notified about itself")
	}
}

func TestJoin_SecondJoinOnSameConnectionDropped(t *testing.T) {
	o := newOrchestrator()
	s1 := o.Registry.CreateSession()
	s2 := o.Registry.CreateSession()

	c := connect(o, "conn-1")
	join(t, o, "conn-1", c, s1, "alice")
	o.Join("conn-1", s2, "alice-again")

	if got := c.byEvent(t, protocol.EventSessionJoined); len(got) != 1 {
		t.Fatalf("got %d session-joined events, want 1", len(got))
	}
	if count, _ := o.Registry.MemberCount(s2); count != 0 {
		t.Fatalf("second session has %d members, want 0", count)
	}
}

func TestSend_FanOutIncludesSenderAndKeepsOrder(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	aliceConn := connect(o, "conn-alice")
	alice := join(t, o, "conn-alice", aliceConn, sessionID, "")
	bobConn := connect(o, "conn-bob")
	join(t, o, "conn-bob", bobConn, sessionID, "Bob")

	o.Send("conn-alice", "hello")
	o.Send("conn-bob", "hey")
	o.Send("conn-alice", "bye")

	texts := func(c *recordConn) []string {
		var out []string
		for _, env := range c.byEvent(t, protocol.EventNewMessage) {
			var m domain.Message
			decodeInto(t, env, &m)
			out = append(out, m.Text)
		}
		return out
	}

	aliceSaw := texts(aliceConn)
	bobSaw := texts(bobConn)
	want := []string{"hello", "hey", "bye"}
	if len(aliceSaw) != len(want) || len(bobSaw) != len(want) {
		t.Fatalf("alice saw %d messages, bob saw %d, want %d each", len(aliceSaw), len(bobSaw), len(want))
	}
	for i, w := range want {
		if aliceSaw[i] != w || bobSaw[i] != w {
			t.Fatalf("order diverged at %d: alice=%v bob=%v want=%v", i, aliceSaw, bobSaw, want)
		}
	}

	// First message carries alice's generated username snapshot.
	var first domain.Message
	decodeInto(t, bobConn.byEvent(t, protocol.EventNewMessage)[0], &first)
	if first.UserID != alice.UserID || first.Username != alice.Username {
		t.Fatalf("first message=%+v, want from %s/%s", first, alice.UserID, alice.Username)
	}
}

func TestSend_FromUnboundConnectionIsNoOp(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	memberConn := connect(o, "conn-member")
	join(t, o, "conn-member", memberConn, sessionID, "m")

	lurker := connect(o, "conn-lurker")
	o.Send("conn-lurker", "should vanish")
	o.Send("never-registered", "also gone")

	if got := memberConn.byEvent(t, protocol.EventNewMessage); len(got) != 0 {
		t.Fatalf("member received %d messages from non-members", len(got))
	}
	if got := lurker.byEvent(t, protocol.EventNewMessage); len(got) != 0 {
		t.Fatal("lurker's dropped message echoed back")
	}
	infos := o.Registry.List()
	if len(infos) != 1 || infos[0].MessageCount != 0 {
		t.Fatalf("session log grew: %+v", infos)
	}
}

func TestDisconnect_NotifiesRemainingMembers(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	aliceConn := connect(o, "conn-alice")
	join(t, o, "conn-alice", aliceConn, sessionID, "")
	bobConn := connect(o, "conn-bob")
	bob := join(t, o, "conn-bob", bobConn, sessionID, "Bob")

	o.Disconnect("conn-bob")

	left := aliceConn.byEvent(t, protocol.EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("alice got %d user-left events, want 1", len(left))
	}
	var p protocol.Presence
	decodeInto(t, left[0], &p)
	if p.UserID != bob.UserID || p.Username != "Bob" {
		t.Fatalf("user-left=%+v, want bob", p)
	}

	count, ok := o.Registry.MemberCount(sessionID)
	if !ok {
		t.Fatal("session discarded while alice remains")
	}
	if count != 1 {
		t.Fatalf("member count=%d, want 1", count)
	}
}

func TestDisconnect_IsIdempotent(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	aliceConn := connect(o, "conn-alice")
	join(t, o, "conn-alice", aliceConn, sessionID, "alice")
	bobConn := connect(o, "conn-bob")
	join(t, o, "conn-bob", bobConn, sessionID, "bob")

	o.Disconnect("conn-bob")
	o.Disconnect("conn-bob")

	if got := aliceConn.byEvent(t, protocol.EventUserLeft); len(got) != 1 {
		t.Fatalf("alice got %d user-left events after double disconnect, want 1", len(got))
	}
}

func TestDisconnect_LastMemberDiscardsSession(t *testing.T) {
	o := newOrchestrator()
	sessionID := o.Registry.CreateSession()

	c := connect(o, "conn-1")
	join(t, o, "conn-1", c, sessionID, "solo")
	o.Disconnect("conn-1")

	if o.Registry.Has(sessionID) {
		t.Fatal("session survived its last member")
	}

	// A stale invite to the discarded session must fail cleanly.
	c2 := connect(o, "conn-2")
	o.Join("conn-2", sessionID, "late")
	if got := c2.byEvent(t, protocol.EventError); len(got) != 1 {
		t.Fatalf("stale join got %d error events, want 1", len(got))
	}
}

func TestRelay_ReachesTargetInAnotherSession(t *testing.T) {
	o := newOrchestrator()
	s1 := o.Registry.CreateSession()
	s2 := o.Registry.CreateSession()

	aliceConn := connect(o, "conn-alice")
	alice := join(t, o, "conn-alice", aliceConn, s1, "alice")
	bobConn := connect(o, "conn-bob")
	bob := join(t, o, "conn-bob", bobConn, s2, "bob")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 fake"}`)
	o.RelayOffer("conn-alice", bob.UserID, offer)

	got := bobConn.byEvent(t, protocol.EventVoiceOffer)
	if len(got) != 1 {
		t.Fatalf("bob got %d voice-offer events, want 1", len(got))
	}
	var p protocol.VoiceOfferRelay
	decodeInto(t, got[0], &p)
	if p.From != alice.UserID {
		t.Fatalf("voice-offer from=%s, want %s", p.From, alice.UserID)
	}
	if string(p.Offer) != string(offer) {
		t.Fatalf("offer payload rewritten: got %s want %s", p.Offer, offer)
	}
}

func TestRelay_AnswerAndCandidate(t *testing.T) {
	o := newOrchestrator()
	s := o.Registry.CreateSession()

	aConn := connect(o, "conn-a")
	a := join(t, o, "conn-a", aConn, s, "a")
	bConn := connect(o, "conn-b")
	b := join(t, o, "conn-b", bConn, s, "b")

	o.RelayAnswer("conn-b", a.UserID, json.RawMessage(`{"type":"answer"}`))
	o.RelayICECandidate("conn-a", b.UserID, json.RawMessage(`{"candidate":"candidate:1"}`))

	answers := aConn.byEvent(t, protocol.EventVoiceAnswer)
	if len(answers) != 1 {
		t.Fatalf("a got %d voice-answer events, want 1", len(answers))
	}
	var ans protocol.VoiceAnswerRelay
	decodeInto(t, answers[0], &ans)
	if ans.From != b.UserID {
		t.Fatalf("answer from=%s, want %s", ans.From, b.UserID)
	}

	cands := bConn.byEvent(t, protocol.EventVoiceICE)
	if len(cands) != 1 {
		t.Fatalf("b got %d voice-ice-candidate events, want 1", len(cands))
	}
	var cand protocol.VoiceICERelay
	decodeInto(t, cands[0], &cand)
	if cand.From != a.UserID {
		t.Fatalf("candidate from=%s, want %s", cand.From, a.UserID)
	}
}

func TestRelay_UnresolvableTargetDropsSilently(t *testing.T) {
	o := newOrchestrator()
	s := o.Registry.CreateSession()

	aConn := connect(o, "conn-a")
	join(t, o, "conn-a", aConn, s, "a")

	before := len(aConn.envelopes(t))
	o.RelayOffer("conn-a", "nobody-home", json.RawMessage(`{}`))
	if got := len(aConn.envelopes(t)); got != before {
		t.Fatalf("source received %d extra events for a failed relay", got-before)
	}
}

func TestRelay_FromUnboundConnectionDropped(t *testing.T) {
	o := newOrchestrator()
	s := o.Registry.CreateSession()

	targetConn := connect(o, "conn-target")
	target := join(t, o, "conn-target", targetConn, s, "t")

	connect(o, "conn-stranger")
	o.RelayOffer("conn-stranger", target.UserID, json.RawMessage(`{}`))

	if got := targetConn.byEvent(t, protocol.EventVoiceOffer); len(got) != 0 {
		t.Fatalf("target got %d offers from an unbound source", len(got))
	}
}
