package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// sqliteHistoryRepo implements the conversation history repository on sqlite
type sqliteHistoryRepo struct {
	db *sql.DB
}

// NewSQLiteHistoryRepo creates a new sqlite history repository
func NewSQLiteHistoryRepo(dbPath string) (repo.HistoryRepo, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	// Create table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			conversation TEXT NOT NULL,
			bot_id INTEGER NOT NULL,
			channel TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			image_mime TEXT NOT NULL DEFAULT '',
			image BLOB,
			created_at INTEGER NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	// Create index
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation, created_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &sqliteHistoryRepo{db: db}, nil
}

// Append stores a message
func (r *sqliteHistoryRepo) Append(ctx context.Context, msg *domain.Message) error {
	var mime string
	var image []byte
	if msg.Image != nil {
		mime, image = msg.Image.MimeType, msg.Image.Data
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation, bot_id, channel, customer_id, sender, text, image_mime, image, created_at, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.Conversation.String(),
		msg.Conversation.BotID,
		string(msg.Conversation.Channel),
		msg.Conversation.CustomerID,
		string(msg.Sender),
		msg.Text,
		mime,
		image,
		msg.CreatedAt.UnixNano(),
		msg.Delivered,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// MarkDelivered flags a bot message as delivered
func (r *sqliteHistoryRepo) MarkDelivered(ctx context.Context, conv domain.ConversationKey, msgID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET delivered = 1 WHERE id = ? AND conversation = ?
	`, msgID, conv.String())
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	return nil
}

// Recent returns the newest messages in chronological order
func (r *sqliteHistoryRepo) Recent(ctx context.Context, conv domain.ConversationKey, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender, text, image_mime, image, created_at, delivered
		FROM messages
		WHERE conversation = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, conv.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			msg       domain.Message
			sender    string
			mime      string
			image     []byte
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &mime, &image, &createdAt, &msg.Delivered); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Conversation = conv
		msg.Sender = domain.Sender(sender)
		msg.CreatedAt = time.Unix(0, createdAt)
		if mime != "" {
			msg.Image = &domain.Image{Data: image, MimeType: mime}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Close closes the database
func (r *sqliteHistoryRepo) Close() error {
	return r.db.Close()
}
