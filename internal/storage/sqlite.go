package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRecorder stores events in a single interactions table.
type SQLiteRecorder struct {
	db *sql.DB
}

func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under concurrent dispatches
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	r := &SQLiteRecorder{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS interactions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL,
        conversation_id TEXT NOT NULL,
        user_message TEXT NOT NULL,
        primary_model TEXT NOT NULL,
        assistant_response TEXT NOT NULL,
        outcomes_json TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_interactions_conversation ON interactions (conversation_id);
    `
	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRecorder) AppendInteraction(event Event) error {
	outcomes, err := json.Marshal(event.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO interactions (timestamp, conversation_id, user_message, primary_model, assistant_response, outcomes_json)
         VALUES (?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UTC(), event.ConversationID, event.UserMessage, event.PrimaryModel, event.AssistantResponse, string(outcomes),
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

const selectInteractions = `SELECT timestamp, conversation_id, user_message, primary_model, assistant_response, outcomes_json
         FROM interactions`

func (r *SQLiteRecorder) LoadInteractions() ([]Event, error) {
	return r.query(selectInteractions + ` ORDER BY id`)
}

// LoadInteractionsBetween relies on timestamps being stored in UTC, which
// keeps their text form ordered.
func (r *SQLiteRecorder) LoadInteractionsBetween(from, to time.Time) ([]Event, error) {
	return r.query(selectInteractions+` WHERE timestamp >= ? AND timestamp < ? ORDER BY id`, from.UTC(), to.UTC())
}

func (r *SQLiteRecorder) query(q string, args ...any) ([]Event, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts time.Time
		var outcomes string
		if err := rows.Scan(&ts, &ev.ConversationID, &ev.UserMessage, &ev.PrimaryModel, &ev.AssistantResponse, &outcomes); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		ev.Timestamp = ts.UTC()
		if err := json.Unmarshal([]byte(outcomes), &ev.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return events, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
