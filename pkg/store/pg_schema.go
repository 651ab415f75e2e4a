package store

import "context"

// migrate creates the necessary database tables
func (s *PGStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		email TEXT NOT NULL,
		setting TEXT NOT NULL DEFAULT '` + DefaultSetting + `',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		pending BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_recipient_pending ON chat_messages(recipient, pending);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_sender ON chat_messages(sender);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}
