package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kashsuks/lockdown-winners/internal/domain"
)

var (
	ErrUnknownConn  = errors.New("unknown connection")
	ErrAlreadyBound = errors.New("connection already bound")
)

// ConnState is the lifecycle of one transport connection.
// Unbound → Bound → Closed, no other transitions.
type ConnState int

const (
	StateUnbound ConnState = iota
	StateBound
	StateClosed
)

// Binding is the logical identity a connection is bound to.
type Binding struct {
	Session domain.SessionID
	User    domain.UserID
	State   ConnState
}

type dirEntry struct {
	conn    SignalConnection
	state   ConnState
	session domain.SessionID
	user    domain.UserID
}

// Directory maps live transport connections to at most one
// (session, user) pair each. It also keeps the reverse UserID index
// that signaling uses to reach a peer without knowing its session —
// maintained incrementally on bind/close, never by scanning.
type Directory struct {
	mu     sync.RWMutex
	conns  map[domain.ConnID]*dirEntry
	byUser map[domain.UserID]domain.ConnID
}

func NewDirectory() *Directory {
	return &Directory{
		conns:  make(map[domain.ConnID]*dirEntry),
		byUser: make(map[domain.UserID]domain.ConnID),
	}
}

// Register records a freshly accepted connection in the Unbound state.
func (d *Directory) Register(cid domain.ConnID, conn SignalConnection) {
	d.mu.Lock()
	d.conns[cid] = &dirEntry{conn: conn, state: StateUnbound}
	d.mu.Unlock()
	log.Debug().Str("module", "core.directory").Str("conn", string(cid)).Msg("connection registered")
}

// Bind attaches a logical identity to an Unbound connection. Rebinding
// requires a full disconnect/reconnect cycle, so a second Bind fails.
func (d *Directory) Bind(cid domain.ConnID, sessionID domain.SessionID, userID domain.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.conns[cid]
	if !ok {
		return ErrUnknownConn
	}
	if e.state != StateUnbound {
		return ErrAlreadyBound
	}
	e.state = StateBound
	e.session = sessionID
	e.user = userID
	d.byUser[userID] = cid
	log.Debug().Str("module", "core.directory").Str("conn", string(cid)).Str("session", string(sessionID)).Str("user", string(userID)).Msg("connection bound")
	return nil
}

// Lookup returns the connection's current binding.
func (d *Directory) Lookup(cid domain.ConnID) (Binding, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.conns[cid]
	if !ok {
		return Binding{}, false
	}
	return Binding{Session: e.session, User: e.user, State: e.state}, true
}

// Conn returns the transport endpoint for a connection.
func (d *Directory) Conn(cid domain.ConnID) (SignalConnection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.conns[cid]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// ResolveUser finds the transport a user is currently reachable on,
// regardless of which session that user is in.
func (d *Directory) ResolveUser(userID domain.UserID) (SignalConnection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cid, ok := d.byUser[userID]
	if !ok {
		return nil, false
	}
	e, ok := d.conns[cid]
	if !ok || e.state != StateBound {
		return nil, false
	}
	return e.conn, true
}

// Close tears the connection down and returns the binding it held.
// Safe to call twice; the second call reports ok=false so callers can
// skip cleanup that already ran.
func (d *Directory) Close(cid domain.ConnID) (Binding, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.conns[cid]
	if !ok {
		return Binding{}, false
	}
	b := Binding{Session: e.session, User: e.user, State: e.state}
	if e.state == StateBound {
		delete(d.byUser, e.user)
	}
	e.state = StateClosed
	delete(d.conns, cid)
	log.Debug().Str("module", "core.directory").Str("conn", string(cid)).Msg("connection closed")
	return b, true
}
