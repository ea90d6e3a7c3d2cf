// Package store persists app conveniences - favorite directories,
// settings, recently scanned roots - in a local sqlite database. The
// directory tree itself is never persisted; it is rebuilt from the
// real filesystem every session.
package store

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type EventType int

const (
	FetchFavorites EventType = iota
	AddFavorite
	RemoveFavorite
	FetchSettings
	SaveSetting
	FetchRecentRoots
	AddRecentRoot
)

type Request struct {
	Op    EventType
	Path  string
	Key   string
	Value string
}

type Response struct {
	Op        EventType
	Favorites []string          // List of paths
	Recent    []string          // Recently scanned roots, newest first
	Settings  map[string]string // Key-value settings
	Err       error
}

// recentLimit caps how many scan roots are kept.
const recentLimit = 20

type DB struct {
	conn         *sql.DB
	RequestChan  chan Request
	ResponseChan chan Response
}

func NewDB() *DB {
	return &DB{
		RequestChan:  make(chan Request, 10),
		ResponseChan: make(chan Response, 10),
	}
}

// Open initializes the database connection and schema
func (d *DB) Open(dbPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}

	// WAL mode allows simultaneous readers and writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return err
	}
	// Synchronous NORMAL is safe against app crashes, faster than FULL
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS favorites (
			path TEXT PRIMARY KEY,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS recent_roots (
			path TEXT PRIMARY KEY,
			scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, query := range schema {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	d.conn = db
	return nil
}

func (d *DB) Start() {
	for req := range d.RequestChan {
		switch req.Op {
		case FetchFavorites:
			d.handleFetchFavorites()
		case AddFavorite:
			d.handleAddFavorite(req.Path)
		case RemoveFavorite:
			d.handleRemoveFavorite(req.Path)
		case FetchSettings:
			d.handleFetchSettings()
		case SaveSetting:
			d.handleSaveSetting(req.Key, req.Value)
		case FetchRecentRoots:
			d.handleFetchRecent()
		case AddRecentRoot:
			d.handleAddRecent(req.Path)
		}
	}
}

func (d *DB) handleFetchFavorites() {
	rows, err := d.conn.Query("SELECT path FROM favorites ORDER BY created_at ASC")
	if err != nil {
		d.ResponseChan <- Response{Op: FetchFavorites, Err: err}
		return
	}
	defer rows.Close()

	var favs []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err == nil {
			favs = append(favs, path)
		}
	}

	d.ResponseChan <- Response{Op: FetchFavorites, Favorites: favs}
}

func (d *DB) handleAddFavorite(path string) {
	// Use INSERT OR IGNORE to handle duplicates gracefully
	_, err := d.conn.Exec("INSERT OR IGNORE INTO favorites (path) VALUES (?)", path)
	if err != nil {
		log.Printf("Store Error: %v", err)
	}
	// Always trigger a fetch after modification to sync callers
	d.handleFetchFavorites()
}

func (d *DB) handleRemoveFavorite(path string) {
	_, err := d.conn.Exec("DELETE FROM favorites WHERE path = ?", path)
	if err != nil {
		log.Printf("Store Error: %v", err)
	}
	d.handleFetchFavorites()
}

func (d *DB) handleFetchSettings() {
	rows, err := d.conn.Query("SELECT key, value FROM settings")
	if err != nil {
		d.ResponseChan <- Response{Op: FetchSettings, Err: err}
		return
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err == nil {
			settings[key] = value
		}
	}

	d.ResponseChan <- Response{Op: FetchSettings, Settings: settings}
}

func (d *DB) handleSaveSetting(key, value string) {
	// Use INSERT OR REPLACE to upsert the setting
	_, err := d.conn.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		log.Printf("Store Error saving setting: %v", err)
	}
	d.handleFetchSettings()
}

func (d *DB) handleFetchRecent() {
	rows, err := d.conn.Query(
		"SELECT path FROM recent_roots ORDER BY scanned_at DESC LIMIT ?", recentLimit)
	if err != nil {
		d.ResponseChan <- Response{Op: FetchRecentRoots, Err: err}
		return
	}
	defer rows.Close()

	var recent []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err == nil {
			recent = append(recent, path)
		}
	}

	d.ResponseChan <- Response{Op: FetchRecentRoots, Recent: recent}
}

func (d *DB) handleAddRecent(path string) {
	// Upsert bumps the timestamp so re-scans float to the top
	_, err := d.conn.Exec(
		"INSERT INTO recent_roots (path) VALUES (?) ON CONFLICT(path) DO UPDATE SET scanned_at = CURRENT_TIMESTAMP",
		path)
	if err != nil {
		log.Printf("Store Error: %v", err)
	}
	_, err = d.conn.Exec(
		"DELETE FROM recent_roots WHERE path NOT IN (SELECT path FROM recent_roots ORDER BY scanned_at DESC LIMIT ?)",
		recentLimit)
	if err != nil {
		log.Printf("Store Error: %v", err)
	}
	d.handleFetchRecent()
}

func (d *DB) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}
