package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dd0wney/cluso-chat/pkg/chat"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key
const uniqueViolation = "23505"

// Register creates an account
func (s *PGStore) Register(ctx context.Context, username, password, email string) error {
	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_users (username, password_hash, email) VALUES ($1, $2, $3)`,
		username, hash, email)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", chat.ErrUserExists, username)
	}
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// Authenticate checks a password and records the login
func (s *PGStore) Authenticate(ctx context.Context, username, password string) error {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM chat_users WHERE username = $1`, username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.ErrBadCredentials
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !checkPassword(hash, password) {
		return chat.ErrBadCredentials
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE chat_users SET last_login = now() WHERE username = $1`, username); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// ListUsers returns every username in lexical order
func (s *PGStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM chat_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// MessageHistory returns delivered messages involving username in arrival order
func (s *PGStore) MessageHistory(ctx context.Context, username string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sender, recipient, body, sent_at
		FROM chat_messages
		WHERE NOT pending AND (sender = $1 OR recipient = $1)
		ORDER BY id
	`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return collectMessages(rows)
}

// StoreMessage appends msg
func (s *PGStore) StoreMessage(ctx context.Context, msg chat.Message, pending bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (sender, recipient, body, sent_at, pending)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.Sender, msg.Recipient, msg.Body, msg.Timestamp, pending)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// FetchPending returns up to limit pending messages for username and marks
// them delivered in the same statement
func (s *PGStore) FetchPending(ctx context.Context, username string, limit int) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		WITH picked AS (
			SELECT id FROM chat_messages
			WHERE recipient = $1 AND pending
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE chat_messages m SET pending = false
		FROM picked
		WHERE m.id = picked.id
		RETURNING m.sender, m.recipient, m.body, m.sent_at, m.id
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending messages: %w", err)
	}

	type pendingRow struct {
		chat.Message
		id int64
	}
	picked, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pendingRow, error) {
		var p pendingRow
		err := row.Scan(&p.Sender, &p.Recipient, &p.Body, &p.Timestamp, &p.id)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending messages: %w", err)
	}

	// RETURNING has no defined order
	slices.SortFunc(picked, func(a, b pendingRow) int { return cmp.Compare(a.id, b.id) })
	out := make([]chat.Message, len(picked))
	for i, p := range picked {
		out[i] = p.Message
	}
	return out, nil
}

// DeleteAccount removes the account and the messages still waiting for it
func (s *PGStore) DeleteAccount(ctx context.Context, username string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM chat_users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chat.ErrUserNotFound, username)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM chat_messages WHERE recipient = $1 AND pending`, username); err != nil {
		return fmt.Errorf("failed to delete pending messages: %w", err)
	}
	return tx.Commit(ctx)
}

// SaveSetting stores the user's setting
func (s *PGStore) SaveSetting(ctx context.Context, username, setting string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_users SET setting = $2 WHERE username = $1`, username, setting)
	if err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chat.ErrUserNotFound, username)
	}
	return nil
}

// GetSetting returns the user's setting
func (s *PGStore) GetSetting(ctx context.Context, username string) (string, error) {
	var setting string
	err := s.pool.QueryRow(ctx,
		`SELECT setting FROM chat_users WHERE username = $1`, username).Scan(&setting)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", chat.ErrUserNotFound, username)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return setting, nil
}

func collectMessages(rows pgx.Rows) ([]chat.Message, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var m chat.Message
		err := row.Scan(&m.Sender, &m.Recipient, &m.Body, &m.Timestamp)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}
