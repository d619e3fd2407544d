package ticket

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrConflict is returned by stores when a create would produce a second
// active ticket for the same chat.
var ErrConflict = errors.New("active ticket already exists")

// Machine drives the per-chat escalation lifecycle:
//
//	NoTicket -> Open -> Escalated -> Resolved
//
// Transitions for the same chat are serialized so at most one open or
// escalated ticket can exist per chat id.
type Machine struct {
	store  Store
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMachine(store Store) *Machine {
	return &Machine{
		store:  store,
		logger: log.New(log.Writer(), "[TICKET] ", log.LstdFlags),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing transitions for one chat. Different
// chats proceed in parallel.
func (m *Machine) lockFor(chatID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[chatID] = l
	}
	return l
}

// EscalationResult describes what an escalation request did.
type EscalationResult struct {
	Ticket  Ticket
	Created bool // a new ticket was opened this turn
}

// Escalate applies an escalation request for chatID. The first request opens
// a ticket with snapshots of the triggering query and composed response; a
// repeated request moves it to escalated; re-delivery of the same request is
// a no-op update and never creates a second ticket.
func (m *Machine) Escalate(ctx context.Context, chatID, subject, query, response string) (EscalationResult, error) {
	l := m.lockFor(chatID)
	l.Lock()
	defer l.Unlock()

	existing, found, err := m.store.ActiveTicket(ctx, chatID)
	if err != nil {
		return EscalationResult{}, err
	}
	if !found {
		t := Ticket{
			ChatID:    chatID,
			Subject:   subject,
			Status:    StatusOpen,
			Query:     query,
			Response:  response,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		created, err := m.store.CreateTicket(ctx, t)
		if errors.Is(err, ErrConflict) {
			// Lost a race with another writer for this chat. Surface the
			// existing ticket instead of erroring the request.
			existing, found, ferr := m.store.ActiveTicket(ctx, chatID)
			if ferr != nil || !found {
				return EscalationResult{}, &InvariantError{ChatID: chatID}
			}
			m.logger.Printf("invariant: chat %s already holds ticket %s, returning it", chatID, existing.ID)
			return EscalationResult{Ticket: existing}, nil
		}
		if err != nil {
			return EscalationResult{}, err
		}
		return EscalationResult{Ticket: created, Created: true}, nil
	}

	switch existing.Status {
	case StatusOpen:
		if existing.Query == query {
			// Same escalation re-delivered this turn; touch and move on.
			existing.UpdatedAt = time.Now().UTC()
			if err := m.store.UpdateTicket(ctx, existing); err != nil {
				return EscalationResult{}, err
			}
			return EscalationResult{Ticket: existing}, nil
		}
		existing.Status = StatusEscalated
		existing.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateTicket(ctx, existing); err != nil {
			return EscalationResult{}, err
		}
		m.logger.Printf("ticket %s for chat %s escalated", existing.ID, chatID)
		return EscalationResult{Ticket: existing}, nil
	case StatusEscalated:
		existing.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateTicket(ctx, existing); err != nil {
			return EscalationResult{}, err
		}
		return EscalationResult{Ticket: existing}, nil
	default:
		// Resolved tickets are terminal and never returned as active; treat
		// anything else as corrupt state.
		return EscalationResult{}, &InvariantError{ChatID: chatID, Existing: existing}
	}
}

// Active reads the chat's active ticket without transitioning state.
func (m *Machine) Active(ctx context.Context, chatID string) (Ticket, bool, error) {
	return m.store.ActiveTicket(ctx, chatID)
}

// Lookup reads a ticket by id without transitioning state.
func (m *Machine) Lookup(ctx context.Context, ticketID string) (Ticket, bool, error) {
	return m.store.TicketByID(ctx, ticketID)
}

// FillSnapshots records the subject and composed response on a ticket after
// the response has been generated. Tickets are created first so the response
// text can reference the assigned id.
func (m *Machine) FillSnapshots(ctx context.Context, ticketID, subject, response string) (Ticket, error) {
	t, found, err := m.store.TicketByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if !found {
		return Ticket{}, errors.New("ticket not found: " + ticketID)
	}
	l := m.lockFor(t.ChatID)
	l.Lock()
	defer l.Unlock()

	t.Subject = subject
	t.Response = response
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Resolve moves a ticket to its terminal state. Driven by an external
// resolution event, not the inbound message flow.
func (m *Machine) Resolve(ctx context.Context, ticketID string) (Ticket, error) {
	t, found, err := m.store.TicketByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if !found {
		return Ticket{}, errors.New("ticket not found: " + ticketID)
	}
	l := m.lockFor(t.ChatID)
	l.Lock()
	defer l.Unlock()

	if t.Status == StatusResolved {
		return t, nil
	}
	t.Status = StatusResolved
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return Ticket{}, err
	}
	m.logger.Printf("ticket %s for chat %s resolved", t.ID, t.ChatID)
	return t, nil
}
