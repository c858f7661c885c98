package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionID is the opaque token a chat session is addressed by.
// It is globally unique and safe to hand out via QR/URL.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Message is one chat line in a session log. Immutable after creation;
// Username is a snapshot taken at send time so history never rewrites.
type Message struct {
	ID        string `json:"id"`
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage mints a message with a fresh id and a unix-millisecond
// timestamp (display ordering only, the log index is authoritative).
func NewMessage(userID UserID, username, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}
