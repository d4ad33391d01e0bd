// Package dnsserver is the DNS drop for produced stego images: a store of
// chunked messages with queue semantics, a TXT server that serves them, and
// an HTTP upload API.
package dnsserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is wrapped by every lookup that misses.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when a message ID is stored twice.
var ErrExists = errors.New("already exists")

// Message is one chunked stego image held by the drop
type Message struct {
	ID          string            `json:"id"`
	Chunks      map[string]string `json:"chunks"` // chunk label -> TXT value
	TotalChunks int               `json:"total_chunks"`
	Manifest    string            `json:"manifest"`
	CreatedAt   time.Time         `json:"created_at"`
	State       MessageState      `json:"state"`
	Consumers   []ConsumerRecord  `json:"consumers"`
}

func (m *Message) clone() *Message {
	out := *m
	out.Chunks = make(map[string]string, len(m.Chunks))
	for k, v := range m.Chunks {
		out.Chunks[k] = v
	}
	out.Consumers = append([]ConsumerRecord(nil), m.Consumers...)
	return &out
}

func (m *Message) seenBy(clientID string) bool {
	for _, c := range m.Consumers {
		if c.ClientID == clientID {
			return true
		}
	}
	return false
}

// MessageState tracks lifecycle
type MessageState int

const (
	StateNew       MessageState = iota // uploaded, never fetched
	StateDelivered                     // announced to at least one client
	StateConsumed                      // acknowledged
	StateExpired
)

func (s MessageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDelivered:
		return "delivered"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// ConsumerRecord tracks who was handed a message
type ConsumerRecord struct {
	ClientID  string    `json:"client_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Storage is the drop's persistence interface
type Storage interface {
	StoreMessage(msg *Message) error
	GetMessage(id string) (*Message, error)
	GetChunk(msgID, label string) (string, error)

	// GetNewMessages returns live messages clientID has not been handed yet.
	GetNewMessages(clientID string) ([]*Message, error)
	MarkAsDelivered(msgID, clientID string) error
	MarkAsConsumed(msgID, clientID string) error

	ListMessages() ([]*Message, error)
	CleanExpired(ttl time.Duration) (int, error)
	GetStats() (StorageStats, error)
	Close() error
}

// StorageStats provides metrics
type StorageStats struct {
	TotalMessages int `json:"total_messages"`
	NewMessages   int `json:"new_messages"`
	Delivered     int `json:"delivered"`
	Consumed      int `json:"consumed"`
	TotalChunks   int `json:"total_chunks"`
}

// NewStorage opens the backend named by kind ("memory", "file" or "sqlite").
func NewStorage(kind, path string) (Storage, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}

// MemoryStorage keeps everything in RAM
type MemoryStorage struct {
	messages map[string]*Message
	mu       sync.RWMutex
}

// NewMemoryStorage creates in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{messages: make(map[string]*Message)}
}

// StoreMessage adds a new message with all of its chunks
func (ms *MemoryStorage) StoreMessage(msg *Message) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.messages[msg.ID]; exists {
		return fmt.Errorf("message %s: %w", msg.ID, ErrExists)
	}

	stored := msg.clone()
	stored.State = StateNew
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	ms.messages[msg.ID] = stored
	return nil
}

// GetMessage retrieves a copy of a message by ID
func (ms *MemoryStorage) GetMessage(id string) (*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[id]
	if !exists {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return msg.clone(), nil
}

// GetChunk retrieves a specific chunk
func (ms *MemoryStorage) GetChunk(msgID, label string) (string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return "", fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	data, exists := msg.Chunks[label]
	if !exists {
		return "", fmt.Errorf("chunk %s: %w", label, ErrNotFound)
	}
	return data, nil
}

// GetNewMessages returns undelivered messages for a client, oldest first
func (ms *MemoryStorage) GetNewMessages(clientID string) ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Message
	for _, msg := range ms.messages {
		if msg.State == StateConsumed || msg.State == StateExpired || msg.seenBy(clientID) {
			continue
		}
		out = append(out, msg.clone())
	}
	sortByAge(out)
	return out, nil
}

// MarkAsDelivered records that clientID has been handed the message
func (ms *MemoryStorage) MarkAsDelivered(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	if msg.State == StateNew {
		msg.State = StateDelivered
	}
	msg.Consumers = append(msg.Consumers, ConsumerRecord{ClientID: clientID, FetchedAt: time.Now()})
	return nil
}

// MarkAsConsumed marks message as fully processed
func (ms *MemoryStorage) MarkAsConsumed(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	msg.State = StateConsumed
	return nil
}

// ListMessages returns all messages, oldest first
func (ms *MemoryStorage) ListMessages() ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*Message, 0, len(ms.messages))
	for _, msg := range ms.messages {
		out = append(out, msg.clone())
	}
	sortByAge(out)
	return out, nil
}

// CleanExpired removes messages older than ttl
func (ms *MemoryStorage) CleanExpired(ttl time.Duration) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, msg := range ms.messages {
		if msg.CreatedAt.Before(cutoff) {
			delete(ms.messages, id)
			removed++
		}
	}
	return removed, nil
}

// GetStats returns storage statistics
func (ms *MemoryStorage) GetStats() (StorageStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var stats StorageStats
	for _, msg := range ms.messages {
		stats.TotalMessages++
		stats.TotalChunks += len(msg.Chunks)
		switch msg.State {
		case StateNew:
			stats.NewMessages++
		case StateDelivered:
			stats.Delivered++
		case StateConsumed:
			stats.Consumed++
		}
	}
	return stats, nil
}

// Close is a no-op.
func (ms *MemoryStorage) Close() error { return nil }

func sortByAge(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// FileStorage is MemoryStorage persisted to a JSON file after every change
type FileStorage struct {
	*MemoryStorage
	dataFile string
	mu       sync.Mutex
}

// NewFileStorage creates persistent storage, loading dataFile if it exists
func NewFileStorage(dataFile string) (*FileStorage, error) {
	fs := &FileStorage{
		MemoryStorage: NewMemoryStorage(),
		dataFile:      dataFile,
	}
	if err := fs.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return fs, nil
}

type fileSnapshot struct {
	Messages map[string]*Message `json:"messages"`
}

func (fs *FileStorage) StoreMessage(msg *Message) error {
	if err := fs.MemoryStorage.StoreMessage(msg); err != nil {
		return err
	}
	return fs.Save()
}

func (fs *FileStorage) MarkAsDelivered(msgID, clientID string) error {
	if err := fs.MemoryStorage.MarkAsDelivered(msgID, clientID); err != nil {
		return err
	}
	return fs.Save()
}

func (fs *FileStorage) MarkAsConsumed(msgID, clientID string) error {
	if err := fs.MemoryStorage.MarkAsConsumed(msgID, clientID); err != nil {
		return err
	}
	return fs.Save()
}

func (fs *FileStorage) CleanExpired(ttl time.Duration) (int, error) {
	removed, err := fs.MemoryStorage.CleanExpired(ttl)
	if err != nil || removed == 0 {
		return removed, err
	}
	return removed, fs.Save()
}

// Close flushes state to disk.
func (fs *FileStorage) Close() error {
	return fs.Save()
}

// Save writes current state to disk via a temp file and rename
func (fs *FileStorage) Save() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.MemoryStorage.mu.RLock()
	jsonData, err := json.MarshalIndent(fileSnapshot{Messages: fs.messages}, "", "  ")
	fs.MemoryStorage.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := fs.dataFile + ".tmp"
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, fs.dataFile); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads state from disk
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	jsonData, err := os.ReadFile(fs.dataFile)
	if err != nil {
		return err
	}

	var data fileSnapshot
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if data.Messages == nil {
		data.Messages = make(map[string]*Message)
	}

	fs.MemoryStorage.mu.Lock()
	fs.messages = data.Messages
	fs.MemoryStorage.mu.Unlock()
	return nil
}
