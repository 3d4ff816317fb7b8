package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"yieldvault/core/events"
)

// ErrPathRequired is returned when the audit store path is missing.
var ErrPathRequired = errors.New("vaultd audit path must be configured")

// AuditLog persists every committed vault event so operators can reconstruct
// the sequence of deposits, withdrawals, claims and harvests.
type AuditLog struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Record is one persisted event.
type Record struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Pool       string            `json:"pool,omitempty"`
	User       string            `json:"user,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Open initialises the audit store using a sqlite-compatible DSN.
func Open(dsn string) (*AuditLog, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &AuditLog{db: db, logger: slog.Default(), now: time.Now}, nil
}

// SetLogger overrides the logger used to report failed writes.
func (a *AuditLog) SetLogger(logger *slog.Logger) {
	if a == nil || logger == nil {
		return
	}
	a.logger = logger.With("component", "audit")
}

// Close releases database resources.
func (a *AuditLog) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Emit implements events.Emitter. Events without a wire form are skipped.
// Write failures are logged since emitters cannot fail the operation that
// already committed.
func (a *AuditLog) Emit(ev events.Event) {
	if a == nil || ev == nil {
		return
	}
	b, ok := ev.(events.Broadcastable)
	if !ok {
		return
	}
	if _, err := a.Append(context.Background(), b); err != nil {
		a.logger.Error("audit append failed", "error", err, "event", ev.EventType())
	}
}

// Append stores a single event and returns its record.
func (a *AuditLog) Append(ctx context.Context, ev events.Broadcastable) (Record, error) {
	if a == nil || a.db == nil {
		return Record{}, fmt.Errorf("audit log not configured")
	}
	wire := ev.Event()
	if wire == nil {
		return Record{}, fmt.Errorf("event %s has no payload", ev.EventType())
	}
	attrs, err := json.Marshal(wire.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("encode attributes: %w", err)
	}
	rec := Record{
		ID:         uuid.NewString(),
		Type:       wire.Type,
		Pool:       wire.Attribute("pool"),
		User:       strings.ToLower(wire.Attribute("user")),
		Attributes: wire.Clone().Attributes,
		RecordedAt: a.now().UTC(),
	}
	_, err = a.db.ExecContext(ctx, `
        INSERT INTO vault_events(id, type, pool, account, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, rec.ID, rec.Type, rec.Pool, rec.User, string(attrs), rec.RecordedAt.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("insert event: %w", err)
	}
	return rec, nil
}

// Query filters the audit log. Empty fields match everything.
type Query struct {
	Type  string
	User  string
	Limit int
}

// Recent returns the newest records first.
func (a *AuditLog) Recent(ctx context.Context, q Query) ([]Record, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("audit log not configured")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	clauses := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)
	if t := strings.TrimSpace(q.Type); t != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, t)
	}
	if u := strings.TrimSpace(q.User); u != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, strings.ToLower(u))
	}
	stmt := "SELECT id, type, pool, account, attributes, recorded_at FROM vault_events"
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec      Record
			rawAttrs string
			recorded int64
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Pool, &rec.User, &rawAttrs, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(rawAttrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		rec.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

const schema = `
CREATE TABLE IF NOT EXISTS vault_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    pool TEXT NOT NULL,
    account TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS vault_events_account ON vault_events(account);
CREATE INDEX IF NOT EXISTS vault_events_type ON vault_events(type);
`
