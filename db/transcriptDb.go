package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fraudchat/models"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// TranscriptRepository stores committed conversation messages. Each message is
// keyed by session and its position in the session history.
type TranscriptRepository interface {
	SaveMessages(ctx context.Context, sessionID string, firstIndex int, messages []models.AgentMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]models.AgentMessage, error)
	Close() error
}

const transcriptSchema = `
	CREATE TABLE IF NOT EXISTS transcript_messages (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		parts      TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`

// SQLTranscriptRepository works over Postgres and SQLite; only the
// placeholder style differs.
type SQLTranscriptRepository struct {
	db     *sql.DB
	dollar bool
}

// OpenTranscriptRepository picks the driver from the URL: postgres:// and
// postgresql:// use Postgres, sqlite: prefixes and plain paths use SQLite.
func OpenTranscriptRepository(ctx context.Context, databaseURL string) (*SQLTranscriptRepository, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresTranscriptRepository(ctx, databaseURL)
	default:
		return NewSQLiteTranscriptRepository(ctx, strings.TrimPrefix(databaseURL, "sqlite:"))
	}
}

func NewPostgresTranscriptRepository(ctx context.Context, databaseURL string) (*SQLTranscriptRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &SQLTranscriptRepository{db: db, dollar: true}
	if err := r.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func NewSQLiteTranscriptRepository(ctx context.Context, path string) (*SQLTranscriptRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &SQLTranscriptRepository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLTranscriptRepository) ensureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, transcriptSchema); err != nil {
		return fmt.Errorf("failed to create transcript table: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders to $n for Postgres.
func (r *SQLTranscriptRepository) bind(query string) string {
	if !r.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLTranscriptRepository) SaveMessages(ctx context.Context, sessionID string, firstIndex int, messages []models.AgentMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := r.bind(`
		INSERT INTO transcript_messages (session_id, seq, role, parts, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO NOTHING`)

	for i, msg := range messages {
		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("failed to marshal message parts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, sessionID, firstIndex+i, msg.Role, string(parts), msg.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", firstIndex+i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLTranscriptRepository) ListMessages(ctx context.Context, sessionID string) ([]models.AgentMessage, error) {
	query := r.bind(`
		SELECT role, parts, created_at
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY seq ASC`)

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.AgentMessage
	for rows.Next() {
		var msg models.AgentMessage
		var parts string
		var createdAt int64
		if err := rows.Scan(&msg.Role, &parts, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message parts: %w", err)
		}
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func (r *SQLTranscriptRepository) Close() error {
	return r.db.Close()
}
