package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"secure_chat/internal/model"
)

// PostgresStore keeps history in a relational messages table, mirroring the
// Mongo adapter's contract.
type PostgresStore struct {
	db *pgxpool.Pool
}

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	sender_id           TEXT NOT NULL,
	receiver_id         TEXT NOT NULL,
	encrypted_content   TEXT NOT NULL,
	sender_public_key   TEXT,
	receiver_public_key TEXT,
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (sender_id, receiver_id, created_at);`

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, messagesSchema); err != nil {
		return nil, fmt.Errorf("ensure messages table: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) Insert(ctx context.Context, msg *model.Message) error {
	sql := `
        INSERT INTO messages (id, sender_id, receiver_id, encrypted_content,
                              sender_public_key, receiver_public_key, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, sql,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.EncryptedContent,
		msg.SenderPublicKey,
		msg.ReceiverPublicKey,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryThread(ctx context.Context, identityA, identityB string, before time.Time, limit int64) ([]*model.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}

	sql := `
        SELECT id, sender_id, receiver_id, encrypted_content,
               sender_public_key, receiver_public_key, status, created_at
        FROM messages
        WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
          AND created_at < $3
        ORDER BY created_at DESC
        LIMIT $4`

	rows, err := s.db.Query(ctx, sql, identityA, identityB, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}
	defer rows.Close()

	var page []*model.Message
	for rows.Next() {
		msg := &model.Message{}
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.EncryptedContent,
			&msg.SenderPublicKey,
			&msg.ReceiverPublicKey,
			&msg.Status,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		page = append(page, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}
