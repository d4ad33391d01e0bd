package dnsserver

import (
	"bytes"
	"testing"

	"github.com/faanross/simulacra_png/internal/chunker"
)

func TestLoadZone(t *testing.T) {
	enc := chunker.NewDNSEncoder(testDomain, 60, nil)
	ch := chunker.NewChunker(chunker.ChunkerConfig{}, nil)

	var all []chunker.DNSRecord
	var want []string
	for _, body := range []string{"zone message one", "zone message two, a little longer"} {
		msg, _ := ch.ChunkMessage([]byte(body))
		_, records := enc.EncodeToDNS(msg)
		all = append(all, records...)
		want = append(want, msg.ShortID())
	}

	var zone bytes.Buffer
	if err := enc.GenerateZoneFile(&zone, all); err != nil {
		t.Fatal(err)
	}
	parsed, err := chunker.ParseZoneFile(&zone, testDomain)
	if err != nil {
		t.Fatal(err)
	}

	q := NewQueueManager(NewMemoryStorage())
	ids, err := q.LoadZone(parsed)
	if err != nil {
		t.Fatalf("LoadZone() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("LoadZone() = %v, want 2 ids", ids)
	}
	for _, id := range want {
		if status, err := q.GetMessageStatus(id); err != nil || status != "new" {
			t.Errorf("message %s status = %q, %v", id, status, err)
		}
	}

	if _, err := q.LoadZone(parsed); err == nil {
		t.Error("loading the same zone twice should fail on duplicate ids")
	}
	if _, err := NewQueueManager(NewMemoryStorage()).LoadZone(parsed[1:2]); err == nil {
		t.Error("zone without manifest should fail")
	}
}
