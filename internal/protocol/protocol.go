// Package protocol models the wire surface of the chat relay: every
// event exchanged with a client, in both directions. Signaling bodies
// (offer/answer/candidate) stay json.RawMessage end to end — the relay
// never looks inside them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kashsuks/lockdown-winners/internal/domain"
)

type EventType string

const (
	// client → server
	EventJoinSession EventType = "join-session"
	EventSendMessage EventType = "send-message"
	EventVoiceOffer  EventType = "voice-offer"
	EventVoiceAnswer EventType = "voice-answer"
	EventVoiceICE    EventType = "voice-ice-candidate"

	// server → client (the three voice events are reused with a "from" body)
	EventSessionJoined EventType = "session-joined"
	EventUserJoined    EventType = "user-joined"
	EventUserLeft      EventType = "user-left"
	EventNewMessage    EventType = "new-message"
	EventError         EventType = "error"
)

var errMissingEvent = errors.New("protocol: missing event")

// Envelope frames every message on the socket.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: bad envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errMissingEvent
	}
	return env, nil
}

// Encode frames an event payload for the socket.
func Encode(event EventType, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: body})
}

// Inbound payloads.

type JoinSession struct {
	SessionID domain.SessionID `json:"sessionId"`
	Username  string           `json:"username"`
}

type SendMessage struct {
	Message string `json:"message"`
}

type VoiceOffer struct {
	Target domain.UserID   `json:"target"`
	Offer  json.RawMessage `json:"offer"`
}

type VoiceAnswer struct {
	Target domain.UserID   `json:"target"`
	Answer json.RawMessage `json:"answer"`
}

type VoiceICE struct {
	Target    domain.UserID   `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

// Outbound payloads.

type SessionJoined struct {
	SessionID domain.SessionID `json:"sessionId"`
	Messages  []domain.Message `json:"messages"`
	UserID    domain.UserID    `json:"userId"`
	Username  string           `json:"username"`
}

// Presence is the body of both user-joined and user-left.
type Presence struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type VoiceOfferRelay struct {
	Offer json.RawMessage `json:"offer"`
	From  domain.UserID   `json:"from"`
}

type VoiceAnswerRelay struct {
	Answer json.RawMessage `json:"answer"`
	From   domain.UserID   `json:"from"`
}

type VoiceICERelay struct {
	Candidate json.RawMessage `json:"candidate"`
	From      domain.UserID   `json:"from"`
}
