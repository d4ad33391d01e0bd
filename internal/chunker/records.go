package chunker

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DefaultSubdomain holds chunk and manifest records under <sub>.<domain>.
const DefaultSubdomain = "data"

// DNSEncoder converts chunks to DNS TXT records
type DNSEncoder struct {
	domain    string
	subdomain string
	ttl       uint32
	logger    *zap.Logger
}

// Manifest describes a chunked message so a receiver knows how many chunks
// to fetch and how to verify the result
type Manifest struct {
	MessageID   string
	TotalChunks int
	Size        int
	Checksum    string // hex BLAKE3-256 of the reassembled data
	Timestamp   int64
}

// String is the TXT wire form TOTAL:SIZE:CHECKSUM:TIMESTAMP.
func (m Manifest) String() string {
	return fmt.Sprintf("%d:%d:%s:%d", m.TotalChunks, m.Size, m.Checksum, m.Timestamp)
}

// maxFramePayload is the largest chunk payload any encoding can carry in one
// TXT string.
const maxFramePayload = MAX_DNS_STRING_SIZE*5/8 - METADATA_OVERHEAD

// ParseManifest reads the TXT wire form written by Manifest.String. The
// chunk count must fit the frame's 16-bit total and the size must fit in
// that many chunks.
func ParseManifest(messageID, value string) (*Manifest, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid manifest format: %q", value)
	}
	total, err := strconv.Atoi(parts[0])
	if err != nil || total <= 0 || total > math.MaxUint16 {
		return nil, fmt.Errorf("invalid chunk count in manifest: %q", parts[0])
	}
	size, err := strconv.Atoi(parts[1])
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid size in manifest: %q", parts[1])
	}
	if size > total*maxFramePayload {
		return nil, fmt.Errorf("manifest size %d does not fit in %d chunks", size, total)
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp in manifest: %q", parts[3])
	}
	return &Manifest{
		MessageID:   messageID,
		TotalChunks: total,
		Size:        size,
		Checksum:    parts[2],
		Timestamp:   ts,
	}, nil
}

// Verify checks reassembled data against the manifest.
func (m *Manifest) Verify(data []byte) error {
	if len(data) != m.Size {
		return fmt.Errorf("size mismatch: manifest %d, got %d", m.Size, len(data))
	}
	if got := FileChecksum(data); got != m.Checksum {
		return fmt.Errorf("checksum mismatch: manifest %s, got %s", m.Checksum, got)
	}
	return nil
}

// DNSRecord represents a single TXT record
type DNSRecord struct {
	Name  string
	Type  string
	TTL   uint32
	Value string
}

// NewDNSEncoder creates an encoder for a specific domain
func NewDNSEncoder(domain string, ttl uint32, logger *zap.Logger) *DNSEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DNSEncoder{
		domain:    strings.TrimSuffix(domain, "."),
		subdomain: DefaultSubdomain,
		ttl:       ttl,
		logger:    logger,
	}
}

// ChunkName is the owner name of chunk seq.
func (e *DNSEncoder) ChunkName(seq int, messageID string) string {
	return fmt.Sprintf("%s.%s.%s", ChunkLabel(seq, messageID), e.subdomain, e.domain)
}

// ManifestName is the owner name of a message's manifest.
func (e *DNSEncoder) ManifestName(messageID string) string {
	return fmt.Sprintf("%s.%s.%s", ManifestLabel(messageID), e.subdomain, e.domain)
}

// ChunkLabel is the leftmost label of a chunk record.
func ChunkLabel(seq int, messageID string) string {
	return fmt.Sprintf("c-%d-%s", seq, messageID)
}

// ManifestLabel is the leftmost label of a manifest record.
func ManifestLabel(messageID string) string {
	return "m-" + messageID
}

// EncodeToDNS converts a chunked message to TXT records, manifest first
func (e *DNSEncoder) EncodeToDNS(message *Message) (*Manifest, []DNSRecord) {
	messageID := message.ShortID()
	manifest := &Manifest{
		MessageID:   messageID,
		TotalChunks: len(message.Chunks),
		Size:        len(message.Data),
		Checksum:    message.Checksum,
		Timestamp:   message.CreatedAt.Unix(),
	}

	records := make([]DNSRecord, 0, len(message.Chunks)+1)
	records = append(records, DNSRecord{
		Name:  e.ManifestName(messageID),
		Type:  "TXT",
		TTL:   e.ttl,
		Value: manifest.String(),
	})
	for _, chunk := range message.Chunks {
		records = append(records, DNSRecord{
			Name:  e.ChunkName(int(chunk.Metadata.Sequence), messageID),
			Type:  "TXT",
			TTL:   e.ttl,
			Value: chunk.Encoded,
		})
	}

	e.logger.Debug("dns records generated",
		zap.String("message_id", messageID),
		zap.Int("records", len(records)),
	)
	return manifest, records
}

// ParseFromDNS reconstructs chunks and the manifest from fetched records.
// Records that fail to decode are logged and skipped.
func (e *DNSEncoder) ParseFromDNS(chunker *Chunker, records []DNSRecord) ([]Chunk, *Manifest, error) {
	var chunks []Chunk
	var manifest *Manifest

	for _, record := range records {
		label := strings.SplitN(record.Name, ".", 2)[0]
		switch {
		case strings.HasPrefix(label, "m-"):
			m, err := ParseManifest(strings.TrimPrefix(label, "m-"), record.Value)
			if err != nil {
				return nil, nil, err
			}
			manifest = m
		case strings.HasPrefix(label, "c-"):
			chunk, err := chunker.DecodeChunk(record.Value)
			if err != nil {
				e.logger.Warn("skipping undecodable chunk", zap.String("name", record.Name), zap.Error(err))
				continue
			}
			chunks = append(chunks, *chunk)
		}
	}

	if manifest == nil {
		return nil, nil, errors.New("no manifest found")
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Metadata.Sequence < chunks[j].Metadata.Sequence
	})
	return chunks, manifest, nil
}

// TXTRecord builds the resource record for r.
func (r DNSRecord) TXTRecord() *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(r.Name),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    r.TTL,
		},
		Txt: []string{r.Value},
	}
}

// GenerateZoneFile writes records in BIND zone file format
func (e *DNSEncoder) GenerateZoneFile(w io.Writer, records []DNSRecord) error {
	header := fmt.Sprintf("; simulacra drop for %s\n; generated %s\n$ORIGIN %s.\n$TTL %d\n\n",
		e.domain, time.Now().UTC().Format(time.RFC3339), e.domain, e.ttl)
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for _, record := range records {
		if _, err := fmt.Fprintln(w, record.TXTRecord().String()); err != nil {
			return err
		}
	}
	return nil
}

// ParseZoneFile reads the TXT records of a zone file. Multi-string TXT
// records are joined.
func ParseZoneFile(r io.Reader, origin string) ([]DNSRecord, error) {
	zp := dns.NewZoneParser(r, dns.Fqdn(origin), "")
	var records []DNSRecord
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		txt, isTXT := rr.(*dns.TXT)
		if !isTXT {
			continue
		}
		records = append(records, DNSRecord{
			Name:  strings.TrimSuffix(txt.Hdr.Name, "."),
			Type:  "TXT",
			TTL:   txt.Hdr.Ttl,
			Value: strings.Join(txt.Txt, ""),
		})
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parse zone: %w", err)
	}
	return records, nil
}
