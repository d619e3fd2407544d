package ticket

import (
	"context"
	"fmt"
	"time"
)

// Status is a ticket lifecycle state. Resolved is terminal.
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// Ticket is a persisted escalation record tied to one conversation. ChatID is
// a back-reference, not ownership; the session owns the conversation.
type Ticket struct {
	ID        string    `json:"ticket_id"`
	ChatID    string    `json:"chat_id"`
	Subject   string    `json:"subject"`
	Status    Status    `json:"status"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the ticket persistence collaborator.
type Store interface {
	// CreateTicket persists a new ticket and assigns its public id
	// (TICKET-00001 style). Returns ErrConflict if the chat already has an
	// open or escalated ticket.
	CreateTicket(ctx context.Context, t Ticket) (Ticket, error)
	// ActiveTicket returns the chat's open or escalated ticket, if any.
	ActiveTicket(ctx context.Context, chatID string) (Ticket, bool, error)
	TicketByID(ctx context.Context, ticketID string) (Ticket, bool, error)
	TicketsByChat(ctx context.Context, chatID string) ([]Ticket, error)
	UpdateTicket(ctx context.Context, t Ticket) error
}

// InvariantError reports an attempted transition that would violate the
// one-active-ticket-per-chat invariant. The existing ticket is carried so the
// caller can answer with it instead of failing the request.
type InvariantError struct {
	ChatID   string
	Existing Ticket
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("chat %s already has active ticket %s", e.ChatID, e.Existing.ID)
}
