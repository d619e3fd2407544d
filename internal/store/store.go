package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/ticket"
)

// ErrUnavailable wraps persistence failures that must surface to the caller:
// the core never silently drops a ticket or turn it believes it created.
var ErrUnavailable = errors.New("persistence unavailable")

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("record not found")

const uniqueViolation = "23505"

// Store persists tickets, sessions and turns in Postgres.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{DB: db}, nil
}

// CreateTicket inserts a ticket, assigning a sequential TICKET-00001 style
// public id. A partial unique index on (chat_id) for non-resolved tickets
// enforces the one-active-ticket invariant at the database boundary.
func (s *Store) CreateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO tickets (ticket_id, chat_id, subject, status, query, response, created_at, updated_at)
		VALUES ('TICKET-' || lpad(nextval('ticket_number_seq')::text, 5, '0'), $1, $2, $3, $4, $5, $6, $7)
		RETURNING ticket_id`,
		t.ChatID, t.Subject, string(t.Status), t.Query, t.Response, t.CreatedAt, t.UpdatedAt)
	if err := row.Scan(&t.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ticket.Ticket{}, ticket.ErrConflict
		}
		return ticket.Ticket{}, fmt.Errorf("%w: create ticket for chat %s: %v", ErrUnavailable, t.ChatID, err)
	}
	return t, nil
}

// ActiveTicket returns the open or escalated ticket for a chat, if any.
func (s *Store) ActiveTicket(ctx context.Context, chatID string) (ticket.Ticket, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT ticket_id, chat_id, subject, status, query, response, created_at, updated_at
		FROM tickets WHERE chat_id = $1 AND status IN ('open','escalated')
		ORDER BY created_at DESC LIMIT 1`, chatID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, false, nil
	}
	if err != nil {
		return ticket.Ticket{}, false, fmt.Errorf("%w: active ticket for chat %s: %v", ErrUnavailable, chatID, err)
	}
	return t, true, nil
}

// TicketByID looks up one ticket by its public id.
func (s *Store) TicketByID(ctx context.Context, ticketID string) (ticket.Ticket, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT ticket_id, chat_id, subject, status, query, response, created_at, updated_at
		FROM tickets WHERE ticket_id = $1`, ticketID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, false, nil
	}
	if err != nil {
		return ticket.Ticket{}, false, fmt.Errorf("%w: ticket %s: %v", ErrUnavailable, ticketID, err)
	}
	return t, true, nil
}

// TicketsByChat lists every ticket for a chat, newest first.
func (s *Store) TicketsByChat(ctx context.Context, chatID string) ([]ticket.Ticket, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT ticket_id, chat_id, subject, status, query, response, created_at, updated_at
		FROM tickets WHERE chat_id = $1 ORDER BY created_at DESC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: tickets for chat %s: %v", ErrUnavailable, chatID, err)
	}
	defer rows.Close()
	var out []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: tickets for chat %s: %v", ErrUnavailable, chatID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTicket rewrites a ticket's mutable fields.
func (s *Store) UpdateTicket(ctx context.Context, t ticket.Ticket) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tickets SET subject = $2, status = $3, query = $4, response = $5, updated_at = $6
		WHERE ticket_id = $1`,
		t.ID, t.Subject, string(t.Status), t.Query, t.Response, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: update ticket %s: %v", ErrUnavailable, t.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update ticket %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (ticket.Ticket, error) {
	var t ticket.Ticket
	var status string
	if err := row.Scan(&t.ID, &t.ChatID, &t.Subject, &status, &t.Query, &t.Response, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return ticket.Ticket{}, err
	}
	t.Status = ticket.Status(status)
	return t, nil
}

// --- session persistence (durable side; hot state may live in redis) ---

func (s *Store) Ensure(ctx context.Context, chatID string) (session.Session, error) {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (chat_id, updated_at) VALUES ($1, now())
		ON CONFLICT (chat_id) DO NOTHING`, chatID)
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: ensure session %s: %v", ErrUnavailable, chatID, err)
	}
	sess, _, err := s.Get(ctx, chatID)
	return sess, err
}

func (s *Store) Get(ctx context.Context, chatID string) (session.Session, bool, error) {
	var active sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT active_ticket_id FROM sessions WHERE chat_id = $1`, chatID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("%w: session %s: %v", ErrUnavailable, chatID, err)
	}
	sess := session.Session{ChatID: chatID, ActiveTicketID: active.String}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT role, content, turn_type, created_at FROM turns
		WHERE chat_id = $1 ORDER BY id ASC`, chatID)
	if err != nil {
		return session.Session{}, false, fmt.Errorf("%w: turns for %s: %v", ErrUnavailable, chatID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var turn session.Turn
		var role, turnType string
		if err := rows.Scan(&role, &turn.Content, &turnType, &turn.Timestamp); err != nil {
			return session.Session{}, false, fmt.Errorf("%w: turns for %s: %v", ErrUnavailable, chatID, err)
		}
		turn.Role = session.Role(role)
		turn.Type = turnType
		sess.Turns = append(sess.Turns, turn)
	}
	return sess, true, rows.Err()
}

func (s *Store) AppendTurn(ctx context.Context, chatID string, turn session.Turn) error {
	if _, err := s.Ensure(ctx, chatID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO turns (chat_id, role, content, turn_type, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		chatID, string(turn.Role), turn.Content, turn.Type, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: append turn for %s: %v", ErrUnavailable, chatID, err)
	}
	return nil
}

func (s *Store) SetActiveTicket(ctx context.Context, chatID, ticketID string) error {
	if _, err := s.Ensure(ctx, chatID); err != nil {
		return err
	}
	var active any
	if ticketID != "" {
		active = ticketID
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET active_ticket_id = $2, updated_at = now() WHERE chat_id = $1`,
		chatID, active)
	if err != nil {
		return fmt.Errorf("%w: set active ticket for %s: %v", ErrUnavailable, chatID, err)
	}
	return nil
}

// Save replaces the stored history for a chat with the supplied session.
// Used by the explicit persist endpoint; normal turn flow appends instead.
func (s *Store) Save(ctx context.Context, sess session.Session) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: save session %s: %v", ErrUnavailable, sess.ChatID, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (chat_id, active_ticket_id, updated_at) VALUES ($1, NULLIF($2,''), now())
		ON CONFLICT (chat_id) DO UPDATE SET active_ticket_id = NULLIF($2,''), updated_at = now()`,
		sess.ChatID, sess.ActiveTicketID); err != nil {
		return fmt.Errorf("%w: save session %s: %v", ErrUnavailable, sess.ChatID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE chat_id = $1`, sess.ChatID); err != nil {
		return fmt.Errorf("%w: save session %s: %v", ErrUnavailable, sess.ChatID, err)
	}
	for _, turn := range sess.Turns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (chat_id, role, content, turn_type, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			sess.ChatID, string(turn.Role), turn.Content, turn.Type, turn.Timestamp); err != nil {
			return fmt.Errorf("%w: save session %s: %v", ErrUnavailable, sess.ChatID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: save session %s: %v", ErrUnavailable, sess.ChatID, err)
	}
	return nil
}
