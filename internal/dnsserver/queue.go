package dnsserver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/faanross/simulacra_png/internal/chunker"
)

var messageIDPattern = regexp.MustCompile(`^[0-9a-f]{1,32}$`)

// QueueManager adds queue semantics on top of storage
type QueueManager struct {
	storage Storage
}

// NewQueueManager creates a queue manager
func NewQueueManager(storage Storage) *QueueManager {
	return &QueueManager{storage: storage}
}

// PublishMessage validates and stores an uploaded message. Chunk keys may be
// bare labels or full owner names; they are stored as labels.
func (qm *QueueManager) PublishMessage(id string, chunks map[string]string, manifest string) (*Message, error) {
	id = strings.ToLower(id)
	if !messageIDPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid message id %q", id)
	}
	if len(chunks) == 0 {
		return nil, errors.New("no chunks in upload")
	}

	m, err := chunker.ParseManifest(id, manifest)
	if err != nil {
		return nil, err
	}
	if m.TotalChunks != len(chunks) {
		return nil, fmt.Errorf("manifest announces %d chunks, upload has %d", m.TotalChunks, len(chunks))
	}

	labels := make(map[string]string, len(chunks))
	for name, data := range chunks {
		label := strings.ToLower(strings.SplitN(name, ".", 2)[0])
		if !strings.HasPrefix(label, "c-") || !strings.HasSuffix(label, "-"+id) {
			return nil, fmt.Errorf("chunk %q does not belong to message %s", name, id)
		}
		if len(data) > chunker.MAX_DNS_STRING_SIZE {
			return nil, fmt.Errorf("chunk %q exceeds %d characters", name, chunker.MAX_DNS_STRING_SIZE)
		}
		labels[label] = data
	}

	msg := &Message{
		ID:          id,
		Chunks:      labels,
		TotalChunks: m.TotalChunks,
		Manifest:    manifest,
		CreatedAt:   time.Now(),
		State:       StateNew,
	}
	if err := qm.storage.StoreMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ConsumeMessages hands a client every message it has not seen yet and
// marks each as delivered to it
func (qm *QueueManager) ConsumeMessages(clientID string) ([]*Message, error) {
	messages, err := qm.storage.GetNewMessages(clientID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if err := qm.storage.MarkAsDelivered(msg.ID, clientID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// AcknowledgeMessage marks a message as consumed
func (qm *QueueManager) AcknowledgeMessage(msgID, clientID string) error {
	return qm.storage.MarkAsConsumed(msgID, clientID)
}

// GetMessageStatus returns current state of a message
func (qm *QueueManager) GetMessageStatus(msgID string) (string, error) {
	msg, err := qm.storage.GetMessage(msgID)
	if err != nil {
		return "", err
	}
	if msg.State == StateDelivered {
		return fmt.Sprintf("delivered to %d clients", len(msg.Consumers)), nil
	}
	return msg.State.String(), nil
}
