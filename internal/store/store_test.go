package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/store"
	"github.com/deskpilot/deskpilot/internal/ticket"
)

func startPostgres(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "deskpilot",
			"POSTGRES_PASSWORD": "deskpilot",
			"POSTGRES_DB":       "deskpilot",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(1).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable, skipping: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	dsn := fmt.Sprintf("postgres://deskpilot:deskpilot@%s:%s/deskpilot?sslmode=disable", host, port.Port())
	return pg, dsn
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()
	cwd, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(cwd, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return "file://" + candidate
		}
		cwd = filepath.Dir(cwd)
	}
	t.Fatalf("could not locate migrations directory from test cwd")
	return ""
}

func newTestStore(t *testing.T, ctx context.Context) *store.Store {
	t.Helper()
	pg, dsn := startPostgres(t, ctx)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	migDir := findMigrationsDir(t)
	var migErr error
	for i := 0; i < 6; i++ {
		var m *migrate.Migrate
		m, migErr = migrate.New(migDir, dsn)
		if migErr == nil {
			migErr = m.Up()
		}
		if migErr == nil {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}
	if migErr != nil {
		t.Fatalf("migrations failed: %v", migErr)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	return st
}

func TestPostgresStore_TicketLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	st := newTestStore(t, ctx)

	now := time.Now().UTC().Truncate(time.Microsecond)
	created, err := st.CreateTicket(ctx, ticket.Ticket{
		ChatID: "chat-1", Subject: "Login loop", Status: ticket.StatusOpen,
		Query: "login keeps looping", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "TICKET-00001" {
		t.Fatalf("expected sequential public id, got %s", created.ID)
	}

	// Second active ticket for the same chat must hit the partial unique index.
	_, err = st.CreateTicket(ctx, ticket.Ticket{
		ChatID: "chat-1", Status: ticket.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ticket.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	active, found, err := st.ActiveTicket(ctx, "chat-1")
	if err != nil || !found || active.ID != created.ID {
		t.Fatalf("active lookup failed: found=%v err=%v", found, err)
	}

	active.Status = ticket.StatusResolved
	active.UpdatedAt = time.Now().UTC()
	if err := st.UpdateTicket(ctx, active); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, found, _ := st.ActiveTicket(ctx, "chat-1"); found {
		t.Fatalf("resolved ticket still reported active")
	}

	// Resolution frees the slot for a fresh ticket.
	second, err := st.CreateTicket(ctx, ticket.Ticket{
		ChatID: "chat-1", Status: ticket.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create after resolve failed: %v", err)
	}
	list, err := st.TicketsByChat(ctx, "chat-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 tickets for chat, got %d err=%v", len(list), err)
	}
	if list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %s", list[0].ID)
	}
}

func TestPostgresStore_SessionRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	st := newTestStore(t, ctx)

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := st.AppendTurn(ctx, "chat-1", session.Turn{Role: session.RoleUser, Content: "hello", Type: "query", Timestamp: now}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := st.AppendTurn(ctx, "chat-1", session.Turn{Role: session.RoleAssistant, Content: "hi!", Type: "informational", Timestamp: now}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	sess, found, err := st.Get(ctx, "chat-1")
	if err != nil || !found {
		t.Fatalf("get failed: found=%v err=%v", found, err)
	}
	if len(sess.Turns) != 2 || sess.Turns[0].Content != "hello" || sess.Turns[1].Role != session.RoleAssistant {
		t.Fatalf("unexpected turns: %+v", sess.Turns)
	}

	tk, err := st.CreateTicket(ctx, ticket.Ticket{ChatID: "chat-1", Status: ticket.StatusOpen, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := st.SetActiveTicket(ctx, "chat-1", tk.ID); err != nil {
		t.Fatalf("set active ticket failed: %v", err)
	}
	sess, _, _ = st.Get(ctx, "chat-1")
	if sess.ActiveTicketID != tk.ID {
		t.Fatalf("active ticket not recorded, got %q", sess.ActiveTicketID)
	}

	// Save replaces history wholesale.
	sess.Turns = sess.Turns[:1]
	if err := st.Save(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	sess, _, _ = st.Get(ctx, "chat-1")
	if len(sess.Turns) != 1 {
		t.Fatalf("expected history replaced, got %d turns", len(sess.Turns))
	}
}
