package dnsserver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/faanross/simulacra_png/internal/chunker"
)

// LoadZone publishes every message found in zone file records, grouping
// chunks under their manifest. It returns the ids published.
func (qm *QueueManager) LoadZone(records []chunker.DNSRecord) ([]string, error) {
	manifests := make(map[string]string)
	chunks := make(map[string]map[string]string)

	for _, rec := range records {
		label := strings.ToLower(strings.SplitN(rec.Name, ".", 2)[0])
		switch {
		case strings.HasPrefix(label, "m-"):
			manifests[strings.TrimPrefix(label, "m-")] = rec.Value
		case strings.HasPrefix(label, "c-"):
			id, ok := chunkMessageID(label)
			if !ok {
				return nil, fmt.Errorf("malformed chunk name %q", rec.Name)
			}
			if chunks[id] == nil {
				chunks[id] = make(map[string]string)
			}
			chunks[id][label] = rec.Value
		}
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("no manifest records in zone")
	}

	ids := make([]string, 0, len(manifests))
	for id := range manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := qm.PublishMessage(id, chunks[id], manifests[id]); err != nil {
			return nil, fmt.Errorf("message %s: %w", id, err)
		}
	}
	return ids, nil
}
