// Package timeline persists run traces for agent executions.
package timeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Span types recorded on the timeline.
const (
	SpanLLM     = "LLM"
	SpanTool    = "TOOL"
	SpanSpawn   = "SPAWN"
	SpanConfirm = "CONFIRM"
	SpanSystem  = "SYSTEM"
)

// Event is one span on an agent run trace.
type Event struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	TraceID   string    `json:"trace_id"`
	AgentID   string    `json:"agent_id"`
	Depth     int       `json:"depth"`
	SpanType  string    `json:"span_type"`
	Content   string    `json:"content"`
	Metadata  string    `json:"metadata,omitempty"` // JSON blob for rich span detail
	Timestamp time.Time `json:"timestamp"`
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	trace_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	depth INTEGER NOT NULL DEFAULT 0,
	span_type TEXT NOT NULL,
	content TEXT,
	metadata TEXT,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_trace ON events(trace_id);
CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id);

CREATE TABLE IF NOT EXISTS token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	model TEXT,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_trace ON token_usage(trace_id);
`

// Service is a sqlite-backed trace store. All methods are safe for
// concurrent use; database/sql serializes access.
type Service struct {
	db *sql.DB
}

// NewService opens (creating if needed) the trace database at dbPath.
func NewService(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

// AddEvent inserts one span. Duplicate event ids are ignored.
func (s *Service) AddEvent(ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO events (event_id, trace_id, agent_id, depth, span_type, content, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.TraceID, ev.AgentID, ev.Depth, ev.SpanType, ev.Content, ev.Metadata, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecordUsage stores token accounting for one LLM call.
func (s *Service) RecordUsage(traceID, agentID, model string, promptTokens, completionTokens int) error {
	_, err := s.db.Exec(`
		INSERT INTO token_usage (trace_id, agent_id, model, prompt_tokens, completion_tokens, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		traceID, agentID, model, promptTokens, completionTokens, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// EventsByTrace returns all spans for a trace in insertion order.
func (s *Service) EventsByTrace(traceID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, event_id, trace_id, agent_id, depth, span_type, content, metadata, timestamp
		FROM events WHERE trace_id = ? ORDER BY id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.TraceID, &ev.AgentID, &ev.Depth, &ev.SpanType, &ev.Content, &ev.Metadata, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TraceTokens sums recorded token usage for a trace.
func (s *Service) TraceTokens(traceID string) (prompt, completion int, err error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0)
		FROM token_usage WHERE trace_id = ?`, traceID)
	if err := row.Scan(&prompt, &completion); err != nil {
		return 0, 0, fmt.Errorf("sum usage: %w", err)
	}
	return prompt, completion, nil
}
