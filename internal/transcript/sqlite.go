package transcript

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps transcripts in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

func NewSQLiteStore(dbPath, key string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, key: key}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS transcripts (
			session TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(session string) ([]Message, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM transcripts WHERE session = ?`, normalizeSession(session)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return decode([]byte(payload))
}

func (s *SQLiteStore) Save(session string, msgs []Message) error {
	data, err := encode(s.key, session, msgs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO transcripts (session, version, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, normalizeSession(session), SchemaVersion, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(session string) error {
	if _, err := s.db.Exec(`DELETE FROM transcripts WHERE session = ?`, normalizeSession(session)); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ImportFile copies transcripts from a FileStore directory into the table,
// skipping sessions that already have a row. It returns the number imported.
func (s *SQLiteStore) ImportFile(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read transcript dir: %w", err)
	}

	imported := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return imported, fmt.Errorf("read transcript %s: %w", name, err)
		}
		session := s.importedSession(name, data)

		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM transcripts WHERE session = ?`, normalizeSession(session)).Scan(&exists); err != nil {
			return imported, fmt.Errorf("check transcript %s: %w", session, err)
		}
		if exists > 0 {
			continue
		}

		msgs, err := decode(data)
		if err != nil {
			log.Printf("[transcript] skip %s: %v", name, err)
			continue
		}
		if err := s.Save(session, msgs); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// importedSession recovers the session of a file transcript from its envelope
// key. Bare arrays carry no key and fall back to the file name.
func (s *SQLiteStore) importedSession(name string, data []byte) string {
	var env Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Key != "" {
		if session, ok := strings.CutPrefix(env.Key, keyPrefix(s.key)); ok && session != "" {
			return session
		}
		if _, session, ok := strings.Cut(env.Key, ":"); ok && session != "" {
			return session
		}
	}
	return sessionFromName(name)
}
