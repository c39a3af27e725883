package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbName = "tutelliv.db"

// The journal owns a single table, so the schema is ensured idempotently on
// open instead of going through a versioned migration runner.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts TEXT NOT NULL,
    type TEXT NOT NULL,
    entity_kind TEXT NOT NULL,
    entity_id TEXT,
    actor_id TEXT,
    payload_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id);
`

// Path returns the journal database location inside a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".tutelliv", dbName)
}

// Open opens the workspace journal database, creating the .tutelliv
// directory and the events schema if missing. Foreign keys are on for
// parity with other sqlite consumers of the file.
func Open(workspace string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(Path(workspace)), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", Path(workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return conn, nil
}
