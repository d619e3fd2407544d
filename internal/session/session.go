package session

import (
	"context"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are append-only.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type,omitempty"`
}

// Session is the ordered history of turns for one chat id, plus a reference
// to the chat's active ticket when one exists.
type Session struct {
	ChatID         string `json:"chat_id"`
	Turns          []Turn `json:"turns"`
	ActiveTicketID string `json:"active_ticket_id,omitempty"`
}

// Store is the session persistence collaborator. Concurrent writes to the
// same chat id are serialized by the engine, not here.
type Store interface {
	Ensure(ctx context.Context, chatID string) (Session, error)
	Get(ctx context.Context, chatID string) (Session, bool, error)
	AppendTurn(ctx context.Context, chatID string, turn Turn) error
	SetActiveTicket(ctx context.Context, chatID, ticketID string) error
	Save(ctx context.Context, sess Session) error
}
