// Package sqlite persists credentials behind the pipeline's commit step.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"strandpipe/internal/domain"
	"strandpipe/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	password_digest BLOB NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	issued_at_utc_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id);
`

var (
	ErrUnknownUser    = errors.New("unknown user")
	ErrDigestMismatch = errors.New("stored digest does not match old digest")
)

// Store applies password-change events to a local sqlite database. A commit
// swaps the digest only when the stored one still matches the event's old
// digest, and revokes every session token for the user in the same
// transaction.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init credential schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Commit(ctx context.Context, ev domain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET password_digest=?, updated_at_utc_ns=? WHERE user_id=? AND password_digest=?`,
		ev.NewDigest, time.Now().UTC().UnixNano(), ev.UserID, ev.OldDigest)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE user_id=?`, ev.UserID).Scan(&exists); err != nil {
			return classify(err)
		}
		if exists == 0 {
			return store.Permanent(fmt.Errorf("%w: %s", ErrUnknownUser, ev.UserID))
		}
		return store.Permanent(fmt.Errorf("%w: %s", ErrDigestMismatch, ev.UserID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE user_id=?`, ev.UserID); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps database errors to the pipeline's retry taxonomy: lock and
// contention errors are transient, everything else permanent.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return store.Retryable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Retryable(err)
	}
	return store.Permanent(err)
}

// CreateUser provisions a user with an initial digest. Used at seeding time
// by the deployment, not by the pipeline itself.
func (s *Store) CreateUser(ctx context.Context, userID string, digest []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, password_digest, updated_at_utc_ns) VALUES(?, ?, ?)`,
		userID, digest, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("create user %s: %w", userID, err)
	}
	return nil
}

// AddToken records a session token so a later password change can revoke it.
func (s *Store) AddToken(ctx context.Context, token, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(token, user_id, issued_at_utc_ns) VALUES(?, ?, ?)`,
		token, userID, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("add token for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) Digest(ctx context.Context, userID string) ([]byte, error) {
	var digest []byte
	err := s.db.QueryRowContext(ctx, `SELECT password_digest FROM users WHERE user_id=?`, userID).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return digest, nil
}

func (s *Store) TokenCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tokens WHERE user_id=?`, userID).Scan(&n)
	return n, err
}
