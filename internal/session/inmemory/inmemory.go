package inmemory

import (
	"context"
	"sync"

	"github.com/deskpilot/deskpilot/internal/session"
)

// Store keeps sessions in process memory. Useful for tests and single-node
// deployments without redis.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]session.Session)}
}

func (s *Store) Ensure(_ context.Context, chatID string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[chatID]; ok {
		return sess, nil
	}
	sess := session.Session{ChatID: chatID}
	s.sessions[chatID] = sess
	return sess, nil
}

func (s *Store) Get(_ context.Context, chatID string) (session.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[chatID]
	return sess, ok, nil
}

func (s *Store) AppendTurn(_ context.Context, chatID string, turn session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[chatID]
	sess.ChatID = chatID
	sess.Turns = append(sess.Turns, turn)
	s.sessions[chatID] = sess
	return nil
}

func (s *Store) SetActiveTicket(_ context.Context, chatID, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[chatID]
	sess.ChatID = chatID
	sess.ActiveTicketID = ticketID
	s.sessions[chatID] = sess
	return nil
}

func (s *Store) Save(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ChatID] = sess
	return nil
}
