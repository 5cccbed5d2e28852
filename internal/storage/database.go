package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/sleepwell/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The scheduler, the game engine and HTTP handlers share one connection so
	// writes never contend for the sqlite lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ItemRow is a stored item together with the source it came from.
type ItemRow struct {
	Hash     string
	Name     string
	Emoji    string
	SourceID sql.NullInt64 // Use NullInt64 for nullable source_id
}

// InsertItem inserts a new item into the database.
func (db *DB) InsertItem(item domain.Item, sourceID int64) error {
	_, err := db.conn.Exec(`
		INSERT INTO items (hash, name, emoji, source_id)
		VALUES (?, ?, ?, ?)
	`,
		item.Hash,
		item.Name,
		item.Emoji,
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.Hash, err)
	}
	return nil
}

// FindItemByHash retrieves an item from the database by its hash.
func (db *DB) FindItemByHash(hash string) (*ItemRow, error) {
	var it ItemRow
	row := db.conn.QueryRow(`
		SELECT hash, name, emoji, source_id
		FROM items WHERE hash = ?
	`, hash)

	err := row.Scan(&it.Hash, &it.Name, &it.Emoji, &it.SourceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Item not found
		}
		return nil, fmt.Errorf("failed to find item by hash %s: %w", hash, err)
	}
	return &it, nil
}

// GetItemsBySourceID retrieves all items associated with a specific source ID.
func (db *DB) GetItemsBySourceID(sourceID int64) ([]ItemRow, error) {
	rows, err := db.conn.Query(`
		SELECT hash, name, emoji, source_id
		FROM items WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var items []ItemRow
	for rows.Next() {
		var it ItemRow
		if err := rows.Scan(&it.Hash, &it.Name, &it.Emoji, &it.SourceID); err != nil {
			return nil, fmt.Errorf("failed to scan item row for source ID %d: %w", sourceID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetAllItems retrieves every stored item, ordered by name.
func (db *DB) GetAllItems() ([]domain.Item, error) {
	rows, err := db.conn.Query(`
		SELECT hash, name, emoji
		FROM items ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.Hash, &it.Name, &it.Emoji); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteItemByHash removes an item from the database by its hash.
func (db *DB) DeleteItemByHash(hash string) error {
	_, err := db.conn.Exec(`
		DELETE FROM items
		WHERE hash = ?
	`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete item with hash %s: %w", hash, err)
	}
	return nil
}

// Source represents an item-set source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        string
	LastScanned sql.NullTime
}

const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// InsertSource inserts a new source path into the database and returns its ID.
func (db *DB) InsertSource(path, sourceType string) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source from the database by its path.
func (db *DB) FindSourceByPath(path string) (*Source, error) {
	var s Source
	row := db.conn.QueryRow(`
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)

	err := row.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Source not found
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources from the database.
func (db *DB) GetAllSources() ([]Source, error) {
	rows, err := db.conn.Query(`
		SELECT id, path, type, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// DeleteSource removes a source and the items it contributed.
func (db *DB) DeleteSource(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete of source ID %d: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM items WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete items for source ID %d: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", id, err)
	}
	return tx.Commit()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(sourceID int64) error {
	_, err := db.conn.Exec(`
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, time.Now(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}
