// Package chunker splits a stego image into DNS TXT sized chunks and puts
// it back together.
//
// Each chunk is self-describing so reassembly survives out-of-order and
// partial delivery:
//
//	[MAGIC(4)][MSGID(16)][SEQ(2)][TOTAL(2)][CHECKSUM(4)][PAYLOAD]
//
// The whole frame is hex or unpadded base32 encoded and must fit in one
// 255-byte TXT string.
package chunker

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	// MAX_DNS_STRING_SIZE is the TXT character-string limit
	MAX_DNS_STRING_SIZE = 255

	// SAFE_CHUNK_SIZE leaves headroom below MAX_DNS_STRING_SIZE for the
	// encoded frame
	SAFE_CHUNK_SIZE = 250

	// METADATA_OVERHEAD is Magic(4) + MessageID(16) + Sequence(2) + Total(2) + Checksum(4)
	METADATA_OVERHEAD = 28

	ENCODE_HEX    = "hex"
	ENCODE_BASE32 = "base32"

	// CHUNK_MAGIC is "DNSC"
	CHUNK_MAGIC = 0x444E5343

	PROTOCOL_VERSION = 1
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ChunkMetadata contains all information needed to reassemble a message
type ChunkMetadata struct {
	Magic       uint32
	MessageID   [16]byte
	Sequence    uint16
	TotalChunks uint16
	Checksum    uint32 // leading 32 bits of BLAKE3(payload)
	PayloadSize uint16
}

// Chunk represents a single DNS-ready fragment
type Chunk struct {
	Metadata ChunkMetadata
	Payload  []byte // raw data before encoding
	Encoded  string // TXT-ready frame
}

// Message represents a complete message for chunking
type Message struct {
	ID        [16]byte
	Data      []byte
	Chunks    []Chunk
	Encoding  string
	CreatedAt time.Time
	Checksum  string // hex BLAKE3-256 of Data
}

// ShortID is the DNS label form of the message ID.
func (m *Message) ShortID() string {
	return ShortID(m.ID)
}

// ShortID hex-encodes the first 8 bytes of a message ID.
func ShortID(id [16]byte) string {
	return hex.EncodeToString(id[:8])
}

// ChunkerConfig allows customization of chunking behavior
type ChunkerConfig struct {
	Encoding     string // hex or base32
	MaxChunkSize int    // encoded frame limit, at most MAX_DNS_STRING_SIZE
}

// Chunker handles message fragmentation
type Chunker struct {
	config ChunkerConfig
	logger *zap.Logger
	stats  ChunkingStats
}

// ChunkingStats tracks performance metrics
type ChunkingStats struct {
	MessagesChunked  int
	TotalChunks      int
	TotalBytes       int
	LastChunkingTime time.Duration
}

// NewChunker creates a configured chunker instance
func NewChunker(config ChunkerConfig, logger *zap.Logger) *Chunker {
	if config.Encoding == "" {
		config.Encoding = ENCODE_BASE32
	}
	if config.MaxChunkSize <= 0 || config.MaxChunkSize > MAX_DNS_STRING_SIZE {
		config.MaxChunkSize = SAFE_CHUNK_SIZE
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{config: config, logger: logger}
}

// PayloadSize is the raw payload bytes per chunk such that the encoded frame
// stays within MaxChunkSize.
func (c *Chunker) PayloadSize() int {
	var frame int
	switch c.config.Encoding {
	case ENCODE_HEX:
		frame = c.config.MaxChunkSize / 2
	default:
		// unpadded base32 emits ceil(8n/5) characters
		frame = c.config.MaxChunkSize * 5 / 8
	}
	return frame - METADATA_OVERHEAD
}

// ChunkMessage fragments data into DNS-ready chunks under a fresh random ID
func (c *Chunker) ChunkMessage(data []byte) (*Message, error) {
	return c.ChunkMessageWithID(data, uuid.New())
}

// ChunkMessageWithID is ChunkMessage with a caller-chosen message ID
func (c *Chunker) ChunkMessageWithID(data []byte, id [16]byte) (*Message, error) {
	if len(data) == 0 {
		return nil, errors.New("nothing to chunk")
	}
	startTime := time.Now()

	payloadSize := c.PayloadSize()
	if payloadSize <= 0 {
		return nil, fmt.Errorf("chunk size %d leaves no room for payload", c.config.MaxChunkSize)
	}
	totalChunks := (len(data) + payloadSize - 1) / payloadSize
	if totalChunks > math.MaxUint16 {
		return nil, fmt.Errorf("message too large: requires %d chunks (max %d)",
			totalChunks, math.MaxUint16)
	}

	message := &Message{
		ID:        id,
		Data:      data,
		Chunks:    make([]Chunk, 0, totalChunks),
		Encoding:  c.config.Encoding,
		CreatedAt: time.Now(),
		Checksum:  FileChecksum(data),
	}

	for i := 0; i < totalChunks; i++ {
		message.Chunks = append(message.Chunks, c.createChunk(data, id, i, uint16(totalChunks), payloadSize))
	}

	c.stats.MessagesChunked++
	c.stats.TotalChunks += totalChunks
	c.stats.TotalBytes += len(data)
	c.stats.LastChunkingTime = time.Since(startTime)

	c.logger.Debug("message chunked",
		zap.String("message_id", message.ShortID()),
		zap.Int("bytes", len(data)),
		zap.String("encoding", c.config.Encoding),
		zap.Int("payload_per_chunk", payloadSize),
		zap.Int("chunks", totalChunks),
		zap.Float64("overhead_pct", calculateOverhead(len(data), totalChunks)),
	)
	return message, nil
}

func (c *Chunker) createChunk(data []byte, messageID [16]byte, sequence int, total uint16, payloadSize int) Chunk {
	start := sequence * payloadSize
	end := min(start+payloadSize, len(data))
	payload := data[start:end]

	metadata := ChunkMetadata{
		Magic:       CHUNK_MAGIC,
		MessageID:   messageID,
		Sequence:    uint16(sequence),
		TotalChunks: total,
		Checksum:    ChunkChecksum(payload),
		PayloadSize: uint16(len(payload)),
	}

	return Chunk{
		Metadata: metadata,
		Payload:  payload,
		Encoded:  c.encodeChunk(metadata, payload),
	}
}

func (c *Chunker) encodeChunk(metadata ChunkMetadata, payload []byte) string {
	frame := make([]byte, METADATA_OVERHEAD, METADATA_OVERHEAD+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], metadata.Magic)
	copy(frame[4:20], metadata.MessageID[:])
	binary.BigEndian.PutUint16(frame[20:22], metadata.Sequence)
	binary.BigEndian.PutUint16(frame[22:24], metadata.TotalChunks)
	binary.BigEndian.PutUint32(frame[24:28], metadata.Checksum)
	frame = append(frame, payload...)

	if c.config.Encoding == ENCODE_HEX {
		return hex.EncodeToString(frame)
	}
	return b32.EncodeToString(frame)
}

// DecodeChunk parses a TXT value back into a Chunk. The configured encoding
// is tried first; the other one is tried if its magic does not match.
func (c *Chunker) DecodeChunk(encoded string) (*Chunk, error) {
	decoders := []func(string) ([]byte, error){b32.DecodeString, hex.DecodeString}
	if c.config.Encoding == ENCODE_HEX {
		decoders[0], decoders[1] = decoders[1], decoders[0]
	}

	var lastErr error
	for _, decode := range decoders {
		raw, err := decode(encoded)
		if err != nil {
			lastErr = fmt.Errorf("decode failed: %w", err)
			continue
		}
		chunk, err := parseFrame(raw)
		if err != nil {
			lastErr = err
			continue
		}
		chunk.Encoded = encoded
		return chunk, nil
	}
	return nil, lastErr
}

func parseFrame(raw []byte) (*Chunk, error) {
	if len(raw) < METADATA_OVERHEAD {
		return nil, fmt.Errorf("chunk too small: %d bytes", len(raw))
	}

	var md ChunkMetadata
	md.Magic = binary.BigEndian.Uint32(raw[0:4])
	if md.Magic != CHUNK_MAGIC {
		return nil, fmt.Errorf("invalid magic: %x", md.Magic)
	}
	copy(md.MessageID[:], raw[4:20])
	md.Sequence = binary.BigEndian.Uint16(raw[20:22])
	md.TotalChunks = binary.BigEndian.Uint16(raw[22:24])
	md.Checksum = binary.BigEndian.Uint32(raw[24:28])

	payload := raw[METADATA_OVERHEAD:]
	md.PayloadSize = uint16(len(payload))

	return &Chunk{Metadata: md, Payload: payload}, nil
}

// ReassembleMessage reconstructs the original data from chunks in any order
func (c *Chunker) ReassembleMessage(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, errors.New("no chunks provided")
	}

	messageID := chunks[0].Metadata.MessageID
	totalExpected := chunks[0].Metadata.TotalChunks

	for _, chunk := range chunks {
		if chunk.Metadata.MessageID != messageID {
			return nil, fmt.Errorf("mixed messages detected: %x vs %x",
				messageID[:8], chunk.Metadata.MessageID[:8])
		}
		if chunk.Metadata.TotalChunks != totalExpected {
			return nil, fmt.Errorf("inconsistent total chunks: %d vs %d",
				totalExpected, chunk.Metadata.TotalChunks)
		}
	}

	if len(chunks) != int(totalExpected) {
		return nil, fmt.Errorf("incomplete message: missing chunks %v", findMissingChunks(chunks, totalExpected))
	}

	sorted := append([]Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Metadata.Sequence < sorted[j].Metadata.Sequence
	})

	var reassembled []byte
	for i, chunk := range sorted {
		if chunk.Metadata.Sequence != uint16(i) {
			return nil, fmt.Errorf("sequence error at position %d", i)
		}
		if ChunkChecksum(chunk.Payload) != chunk.Metadata.Checksum {
			return nil, fmt.Errorf("checksum failed for chunk %d", i)
		}
		reassembled = append(reassembled, chunk.Payload...)
	}

	c.logger.Debug("message reassembled",
		zap.String("message_id", ShortID(messageID)),
		zap.Int("chunks", len(sorted)),
		zap.Int("bytes", len(reassembled)),
	)
	return reassembled, nil
}

// ValidateChunk performs comprehensive chunk validation
func (c *Chunker) ValidateChunk(chunk *Chunk) error {
	if chunk.Metadata.Magic != CHUNK_MAGIC {
		return fmt.Errorf("invalid magic number: %x", chunk.Metadata.Magic)
	}
	if calculated := ChunkChecksum(chunk.Payload); calculated != chunk.Metadata.Checksum {
		return fmt.Errorf("checksum mismatch: expected %x, got %x",
			chunk.Metadata.Checksum, calculated)
	}
	if chunk.Metadata.Sequence >= chunk.Metadata.TotalChunks {
		return fmt.Errorf("sequence %d out of bounds (total: %d)",
			chunk.Metadata.Sequence, chunk.Metadata.TotalChunks)
	}
	if len(chunk.Payload) == 0 {
		return errors.New("empty payload")
	}
	if maxPayload := c.PayloadSize(); len(chunk.Payload) > maxPayload {
		return fmt.Errorf("payload too large: %d > %d", len(chunk.Payload), maxPayload)
	}
	return nil
}

// GetStats returns chunking statistics
func (c *Chunker) GetStats() ChunkingStats {
	return c.stats
}

// ChunkChecksum is the leading 32 bits of BLAKE3(payload)
func ChunkChecksum(payload []byte) uint32 {
	sum := blake3.Sum256(payload)
	return binary.BigEndian.Uint32(sum[:4])
}

// FileChecksum is the hex BLAKE3-256 of a complete file
func FileChecksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func calculateOverhead(originalSize, totalChunks int) float64 {
	return float64(totalChunks*METADATA_OVERHEAD) / float64(originalSize) * 100
}

func findMissingChunks(chunks []Chunk, total uint16) []uint16 {
	present := make(map[uint16]bool)
	for _, chunk := range chunks {
		present[chunk.Metadata.Sequence] = true
	}

	var missing []uint16
	for i := uint16(0); i < total; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
