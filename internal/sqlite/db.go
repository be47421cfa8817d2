package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dataSourceName == ":memory:" || strings.Contains(dataSourceName, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the schema. It is idempotent, so the server runs it
// on every start.
func (db *DB) RunMigrations() error {
	migration := `
-- Conversation state, one JSON document per scope key
CREATE TABLE IF NOT EXISTS brain_state (
    scope_key TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Catalog products; variations point at their variable parent
CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY,
    parent_id INTEGER,
    type TEXT NOT NULL CHECK(type IN ('simple', 'variable', 'variation')),
    name TEXT NOT NULL DEFAULT '',
    sku TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'publish',
    regular_price TEXT NOT NULL DEFAULT '',
    sale_price TEXT NOT NULL DEFAULT '',
    stock_quantity INTEGER,
    stock_status TEXT NOT NULL DEFAULT 'instock',
    manage_stock INTEGER NOT NULL DEFAULT 0,
    thumb_url TEXT NOT NULL DEFAULT '',
    categories TEXT NOT NULL DEFAULT '[]',
    attributes TEXT NOT NULL DEFAULT '{}',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (parent_id) REFERENCES products(id)
);
CREATE INDEX IF NOT EXISTS idx_products_parent ON products(parent_id);
CREATE INDEX IF NOT EXISTS idx_products_sku ON products(sku);

-- Full-text search over product titles and SKUs (SQLite FTS5)
CREATE VIRTUAL TABLE IF NOT EXISTS products_fts USING fts5(
    name,
    sku,
    content='products',
    content_rowid='id'
);

-- Triggers to keep FTS index synchronized
CREATE TRIGGER IF NOT EXISTS products_ai AFTER INSERT ON products BEGIN
    INSERT INTO products_fts(rowid, name, sku)
    VALUES (new.id, new.name, new.sku);
END;

CREATE TRIGGER IF NOT EXISTS products_ad AFTER DELETE ON products BEGIN
    INSERT INTO products_fts(products_fts, rowid, name, sku)
    VALUES('delete', old.id, old.name, old.sku);
END;

CREATE TRIGGER IF NOT EXISTS products_au AFTER UPDATE ON products BEGIN
    INSERT INTO products_fts(products_fts, rowid, name, sku)
    VALUES('delete', old.id, old.name, old.sku);
    INSERT INTO products_fts(rowid, name, sku)
    VALUES (new.id, new.name, new.sku);
END;

-- API keys for authentication
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_used TIMESTAMP,
    description TEXT
);
CREATE INDEX IF NOT EXISTS idx_user_keys ON api_keys(user_id);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
