package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/deskpilot/deskpilot/internal/ticket"
)

// MemoryTicketStore is an in-process ticket.Store used by tests and local
// runs without Postgres.
type MemoryTicketStore struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]ticket.Ticket // keyed by public ticket id
}

func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]ticket.Ticket)}
}

func (s *MemoryTicketStore) CreateTicket(_ context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tickets {
		if existing.ChatID == t.ChatID && existing.Status != ticket.StatusResolved {
			return ticket.Ticket{}, ticket.ErrConflict
		}
	}
	s.seq++
	t.ID = fmt.Sprintf("TICKET-%05d", s.seq)
	s.tickets[t.ID] = t
	return t, nil
}

func (s *MemoryTicketStore) ActiveTicket(_ context.Context, chatID string) (ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.ChatID == chatID && t.Status != ticket.StatusResolved {
			return t, true, nil
		}
	}
	return ticket.Ticket{}, false, nil
}

func (s *MemoryTicketStore) TicketByID(_ context.Context, ticketID string) (ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	return t, ok, nil
}

func (s *MemoryTicketStore) TicketsByChat(_ context.Context, chatID string) ([]ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ticket.Ticket
	for _, t := range s.tickets {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryTicketStore) UpdateTicket(_ context.Context, t ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; !ok {
		return fmt.Errorf("update ticket %s: %w", t.ID, ErrNotFound)
	}
	s.tickets[t.ID] = t
	return nil
}
