package decoder

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/faanross/simulacra_png/internal/format"
)

// TrialResult is the first candidate passphrase that authenticated
type TrialResult struct {
	Password string
	Index    int
	Message  []byte
}

// TryPasswords runs Extract for each candidate with at most limit
// key derivations in flight (limit <= 0 means one per CPU). The first
// candidate that verifies wins and the rest are abandoned. If none verify
// the error is an IntegrityError.
func TryPasswords(parent context.Context, pixels []byte, candidates []string, limit int) (*TrialResult, error) {
	if err := format.ValidateCarrier(len(pixels)); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		once   sync.Once
		result *TrialResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, candidate := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			extracted, err := NewSecureStegoDecoder([]byte(candidate)).Extract(pixels)
			if err != nil {
				if _, ok := format.IsIntegrityError(err); ok {
					return nil
				}
				return err
			}
			once.Do(func() {
				result = &TrialResult{Password: candidate, Index: i, Message: extracted.Message}
				cancel()
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return nil, &format.IntegrityError{}
}
