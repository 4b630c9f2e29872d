package sqslistener

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PostgresDedupStore struct {
	db *sql.DB
}

// NewPostgresDedupStore opens a Postgres-backed store. Expects a
// processed_messages(message_id primary key, processed_at) table.
func NewPostgresDedupStore(databaseURL string) (*PostgresDedupStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresDedupStore{db: db}, nil
}

func (p *PostgresDedupStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)",
		messageID,
	).Scan(&exists)
	return exists, err
}

func (p *PostgresDedupStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, processed_at)
         VALUES ($1, $2)
         ON CONFLICT (message_id) DO NOTHING`,
		messageID, time.Now(),
	)
	return err
}

func (p *PostgresDedupStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	_, err := p.db.ExecContext(ctx,
		"DELETE FROM processed_messages WHERE processed_at < $1",
		time.Now().Add(-olderThan),
	)
	return err
}

func (p *PostgresDedupStore) Close() error {
	return p.db.Close()
}
