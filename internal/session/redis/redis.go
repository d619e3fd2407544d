package redis_session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskpilot/deskpilot/internal/session"
)

const defaultTTL = 48 * time.Hour

// Store keeps sessions in redis so conversation state survives restarts and
// is shared across replicas.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(addr, password string, db int, ttl time.Duration) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: rdb, ttl: ttl}
}

func sessionKey(chatID string) string {
	return fmt.Sprintf("session:%s", chatID)
}

func (s *Store) Ensure(ctx context.Context, chatID string) (session.Session, error) {
	sess, ok, err := s.Get(ctx, chatID)
	if err != nil {
		return session.Session{}, err
	}
	if ok {
		_ = s.client.Expire(ctx, sessionKey(chatID), s.ttl).Err()
		return sess, nil
	}
	sess = session.Session{ChatID: chatID}
	if err := s.Save(ctx, sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, chatID string) (session.Session, bool, error) {
	val, err := s.client.Get(ctx, sessionKey(chatID)).Result()
	if err == redis.Nil {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("failed to read session %s: %w", chatID, err)
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return session.Session{}, false, fmt.Errorf("failed to decode session %s: %w", chatID, err)
	}
	return sess, true, nil
}

func (s *Store) AppendTurn(ctx context.Context, chatID string, turn session.Turn) error {
	sess, _, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	sess.ChatID = chatID
	sess.Turns = append(sess.Turns, turn)
	return s.Save(ctx, sess)
}

func (s *Store) SetActiveTicket(ctx context.Context, chatID, ticketID string) error {
	sess, _, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	sess.ChatID = chatID
	sess.ActiveTicketID = ticketID
	return s.Save(ctx, sess)
}

func (s *Store) Save(ctx context.Context, sess session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(sess.ChatID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ChatID, err)
	}
	return nil
}
