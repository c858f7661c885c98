package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kashsuks/lockdown-winners/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotMember       = errors.New("user is not a session member")
)

// session is one chat room: its append-only message log plus the
// member mapping. Both live and die together.
type session struct {
	id      domain.SessionID
	log     []domain.Message
	members map[domain.UserID]*domain.Member
}

// Registry owns every active session. It is the single authority for
// session state; all mutations go through it under one lock, which is
// what gives each session its total message order.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.SessionID]*session)}
}

// CreateSession mints a fresh session with an empty log and no members.
func (r *Registry) CreateSession() domain.SessionID {
	id := domain.NewSessionID()
	r.mu.Lock()
	r.sessions[id] = &session{
		id:      id,
		members: make(map[domain.UserID]*domain.Member),
	}
	r.mu.Unlock()
	log.Info().Str("module", "core.registry").Str("session", string(id)).Msg("created session")
	return id
}

// Has reports whether a session currently exists.
func (r *Registry) Has(id domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// AddMember records a member in the session and returns a snapshot of
// the message log as of the join, for the joiner's replay.
func (r *Registry) AddMember(id domain.SessionID, m *domain.Member) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.members[m.ID] = m
	history := make([]domain.Message, len(s.log))
	copy(history, s.log)
	log.Info().Str("module", "core.registry").Str("session", string(id)).Str("user", string(m.ID)).Str("username", m.Username).Msg("member added")
	return history, nil
}

// AppendMessage appends a message to the session log. The username is
// snapshotted from the member record at append time. A missing session
// or member means the sender raced a disconnect; the caller is expected
// to drop the message, not fail.
func (r *Registry) AppendMessage(id domain.SessionID, userID domain.UserID, text string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.Message{}, ErrSessionNotFound
	}
	m, ok := s.members[userID]
	if !ok {
		return domain.Message{}, ErrNotMember
	}
	msg := domain.NewMessage(userID, m.Username, text)
	s.log = append(s.log, msg)
	return msg, nil
}

// RemoveMember deletes the member and returns its record. When the
// last member goes, the whole session (log included) is discarded —
// that is the only garbage collection sessions get.
func (r *Registry) RemoveMember(id domain.SessionID, userID domain.UserID) (*domain.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	m, ok := s.members[userID]
	if !ok {
		return nil, false
	}
	delete(s.members, userID)
	log.Info().Str("module", "core.registry").Str("session", string(id)).Str("user", string(userID)).Msg("member removed")
	if len(s.members) == 0 {
		delete(r.sessions, id)
		log.Info().Str("module", "core.registry").Str("session", string(id)).Msg("session discarded, last member left")
	}
	return m, true
}

// Members returns a copy of the session's member records.
func (r *Registry) Members(id domain.SessionID) []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	out := make([]domain.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m)
	}
	return out
}

// MemberCount returns the live member count, or false if the session
// does not exist.
func (r *Registry) MemberCount(id domain.SessionID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, false
	}
	return len(s.members), true
}

// SessionInfo is a read-only view for APIs (no member details).
type SessionInfo struct {
	ID           domain.SessionID `json:"sessionId"`
	MemberCount  int              `json:"memberCount"`
	MessageCount int              `json:"messageCount"`
}

func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, SessionInfo{ID: id, MemberCount: len(s.members), MessageCount: len(s.log)})
	}
	return out
}
