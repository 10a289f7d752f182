package signal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const routesSchema = `
CREATE TABLE IF NOT EXISTS routes (
	conversation_id TEXT PRIMARY KEY,
	recipient       TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
`

// RouteStore persists the conversation-to-recipient mapping so the
// bridge can deliver scheduled results into a conversation it has not
// heard from since the process started.
type RouteStore struct {
	db *sql.DB
}

// NewRouteStore opens (or creates) the route database at path.
func NewRouteStore(path string) (*RouteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open route store: %w", err)
	}
	return NewRouteStoreWithDB(db)
}

// NewRouteStoreWithDB wraps an already-open database handle.
func NewRouteStoreWithDB(db *sql.DB) (*RouteStore, error) {
	if _, err := db.Exec(routesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create routes schema: %w", err)
	}
	return &RouteStore{db: db}, nil
}

// Save upserts the recipient for a conversation.
func (s *RouteStore) Save(conversationID, recipient string) error {
	_, err := s.db.Exec(
		`INSERT INTO routes (conversation_id, recipient, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (conversation_id) DO UPDATE
		 SET recipient = excluded.recipient, updated_at = excluded.updated_at`,
		conversationID, recipient, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save route %s: %w", conversationID, err)
	}
	return nil
}

// All returns every persisted conversation-to-recipient mapping.
func (s *RouteStore) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT conversation_id, recipient FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	defer rows.Close()

	routes := make(map[string]string)
	for rows.Next() {
		var convID, recipient string
		if err := rows.Scan(&convID, &recipient); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes[convID] = recipient
	}
	return routes, rows.Err()
}

// Close closes the database connection.
func (s *RouteStore) Close() error {
	return s.db.Close()
}
