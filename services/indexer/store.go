package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"yieldvault/core/events"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// ErrPathRequired is returned when the index path is missing.
var ErrPathRequired = errors.New("indexer: path must be configured")

// Record is one indexed event.
type Record struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Store persists committed protocol events in SQLite. It implements
// events.Emitter so it can be attached directly as a protocol sink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ events.Emitter = (*Store)(nil)

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve index path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open opens or creates the index at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn, err := FileDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "indexer"), now: time.Now}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Emit implements events.Emitter. Failures are logged; the protocol has
// already committed by the time events reach the index.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if _, err := s.Record(context.Background(), evt); err != nil {
		s.logger.Error("index event", "type", evt.EventType(), "error", err)
	}
}

// Record stores evt and returns its generated id.
func (s *Store) Record(ctx context.Context, evt events.Event) (string, error) {
	rendered := evt.Event()
	if rendered == nil {
		return "", fmt.Errorf("event %s has no payload", evt.EventType())
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO events(event_id, type, attributes, recorded_at)
        VALUES(?, ?, ?, ?)
    `, id, rendered.Type, string(attrs), s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// Query returns up to limit events newer than afterSeq in ascending order.
// An empty eventType matches every type.
func (s *Store) Query(ctx context.Context, eventType string, afterSeq int64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT seq, event_id, type, attributes, recorded_at
        FROM events
        WHERE seq > ? AND (? = '' OR type = ?)
        ORDER BY seq ASC
        LIMIT ?
    `, afterSeq, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			record Record
			attrs  string
		)
		if err := rows.Scan(&record.Seq, &record.ID, &record.Type, &attrs, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &record.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Count returns the number of indexed events of eventType, or of every type
// when eventType is empty.
func (s *Store) Count(ctx context.Context, eventType string) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE (? = '' OR type = ?)`, eventType, eventType)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_seq ON events(type, seq);
`
