// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

const MaxUsernameLen = 36

type (
	// UserID identifies a member. Minted fresh on every join, never
	// reused even when the same person rejoins.
	UserID string

	// ConnID identifies one live transport connection.
	ConnID string
)

// Member is a user's participation record within one session.
// Conn is a delivery lookup key only, not ownership; it goes stale
// the moment the peer disconnects.
type Member struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Conn     ConnID `json:"-"`
}

// NewMember mints a member for a joining connection. A blank username
// gets a generated placeholder; overlong ones are cut, not rejected.
func NewMember(username string, conn ConnID) *Member {
	if username == "" {
		username = fmt.Sprintf("User-%d", rand.IntN(1000))
	}
	if len(username) > MaxUsernameLen {
		username = username[:MaxUsernameLen]
	}
	return &Member{
		ID:       UserID(uuid.NewString()),
		Username: username,
		Conn:     conn,
	}
}
