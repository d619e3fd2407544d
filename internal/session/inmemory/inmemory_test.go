package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/deskpilot/deskpilot/internal/session"
)

func TestStore_AppendAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, ok, _ := s.Get(ctx, "chat-1"); ok {
		t.Fatalf("expected no session before first write")
	}
	now := time.Now()
	if err := s.AppendTurn(ctx, "chat-1", session.Turn{Role: session.RoleUser, Content: "hi", Timestamp: now}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.AppendTurn(ctx, "chat-1", session.Turn{Role: session.RoleAssistant, Content: "hello", Timestamp: now}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	sess, ok, _ := s.Get(ctx, "chat-1")
	if !ok || len(sess.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(sess.Turns))
	}
}

func TestStore_SetActiveTicket(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.SetActiveTicket(ctx, "chat-1", "TICKET-00001"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	sess, _, _ := s.Get(ctx, "chat-1")
	if sess.ActiveTicketID != "TICKET-00001" {
		t.Fatalf("active ticket not recorded, got %q", sess.ActiveTicketID)
	}
}

func TestStore_EnsureIsIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.Ensure(ctx, "chat-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := s.AppendTurn(ctx, "chat-1", session.Turn{Role: session.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	sess, err := s.Ensure(ctx, "chat-1")
	if err != nil || len(sess.Turns) != 1 {
		t.Fatalf("ensure must not reset existing history, got %d turns", len(sess.Turns))
	}
}
