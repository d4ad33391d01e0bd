package dnsserver

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	total_chunks INTEGER NOT NULL,
	manifest     TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	state        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	label      TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (message_id, label)
);
CREATE TABLE IF NOT EXISTS consumers (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	client_id  TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consumers_client ON consumers(client_id);
`

// SQLiteStorage keeps the drop in a single SQLite database file
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path in WAL mode.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; pragmas below then apply to the only connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []struct {
		name  string
		query string
	}{
		{"journal_mode", "PRAGMA journal_mode=WAL"},
		{"busy_timeout", "PRAGMA busy_timeout=5000"},
		{"foreign_keys", "PRAGMA foreign_keys=ON"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.query); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s pragma: %w", p.name, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) StoreMessage(msg *Message) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ?`, msg.ID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("message %s: %w", msg.ID, ErrExists)
	}

	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err = tx.Exec(`INSERT INTO messages (id, total_chunks, manifest, created_at, state) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.TotalChunks, msg.Manifest, created.UnixNano(), int(StateNew)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	for label, data := range msg.Chunks {
		if _, err = tx.Exec(`INSERT INTO chunks (message_id, label, data) VALUES (?, ?, ?)`,
			msg.ID, label, data); err != nil {
			return fmt.Errorf("insert chunk %s: %w", label, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetMessage(id string) (*Message, error) {
	msg := &Message{ID: id, Chunks: make(map[string]string)}
	var created int64
	err := s.db.QueryRow(`SELECT total_chunks, manifest, created_at, state FROM messages WHERE id = ?`, id).
		Scan(&msg.TotalChunks, &msg.Manifest, &created, &msg.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = time.Unix(0, created)

	rows, err := s.db.Query(`SELECT label, data FROM chunks WHERE message_id = ?`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var label, data string
		if err := rows.Scan(&label, &data); err != nil {
			rows.Close()
			return nil, err
		}
		msg.Chunks[label] = data
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT client_id, fetched_at FROM consumers WHERE message_id = ? ORDER BY fetched_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rec ConsumerRecord
		var fetched int64
		if err := rows.Scan(&rec.ClientID, &fetched); err != nil {
			return nil, err
		}
		rec.FetchedAt = time.Unix(0, fetched)
		msg.Consumers = append(msg.Consumers, rec)
	}
	return msg, rows.Err()
}

func (s *SQLiteStorage) GetChunk(msgID, label string) (string, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM chunks WHERE message_id = ? AND label = ?`, msgID, label).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("chunk %s: %w", label, ErrNotFound)
	}
	return data, err
}

func (s *SQLiteStorage) GetNewMessages(clientID string) ([]*Message, error) {
	return s.queryMessages(`SELECT id FROM messages
		WHERE state IN (?, ?)
		AND id NOT IN (SELECT message_id FROM consumers WHERE client_id = ?)
		ORDER BY created_at, id`, int(StateNew), int(StateDelivered), clientID)
}

func (s *SQLiteStorage) MarkAsDelivered(msgID, clientID string) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.Exec(`UPDATE messages SET state = CASE WHEN state = ? THEN ? ELSE state END WHERE id = ?`,
		int(StateNew), int(StateDelivered), msgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	if _, err = tx.Exec(`INSERT INTO consumers (message_id, client_id, fetched_at) VALUES (?, ?, ?)`,
		msgID, clientID, time.Now().UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) MarkAsConsumed(msgID, clientID string) error {
	res, err := s.db.Exec(`UPDATE messages SET state = ? WHERE id = ?`, int(StateConsumed), msgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) ListMessages() ([]*Message, error) {
	return s.queryMessages(`SELECT id FROM messages ORDER BY created_at, id`)
}

func (s *SQLiteStorage) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// rows must be closed first: the pool holds a single connection
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(id)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *SQLiteStorage) CleanExpired(ttl time.Duration) (removed int, err error) {
	cutoff := time.Now().Add(-ttl).UnixNano()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"chunks", "consumers"} {
		if _, err = tx.Exec(`DELETE FROM `+table+` WHERE message_id IN (SELECT id FROM messages WHERE created_at < ?)`, cutoff); err != nil {
			return 0, err
		}
	}
	res, err := tx.Exec(`DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}

func (s *SQLiteStorage) GetStats() (StorageStats, error) {
	var stats StorageStats
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM messages GROUP BY state`)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var state MessageState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.TotalMessages += n
		switch state {
		case StateNew:
			stats.NewMessages = n
		case StateDelivered:
			stats.Delivered = n
		case StateConsumed:
			stats.Consumed = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks)
	return stats, err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
