package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// CheckItem is one triple inside a BatchCheck.
type CheckItem struct {
	Object   schema.ObjectRef
	Relation string
	User     schema.UserRef
}

// BatchResult is the per-item outcome. Err carries evaluation failures for
// this item only; other items are unaffected.
type BatchResult struct {
	Allowed bool
	Err     error
}

// BatchCheck evaluates the items independently but shares one evaluation
// cache across them, so overlapping dependency graphs are resolved once.
// Results are positionally aligned with the input.
func (e *Engine) BatchCheck(ctx context.Context, ts *schema.TypeSystem, items []CheckItem) ([]BatchResult, error) {
	if len(items) > e.opts.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	cache := newResultCache()
	results := make([]BatchResult, len(items))

	// Deliberately no errgroup.WithContext: one failing item must not
	// cancel its siblings.
	var g errgroup.Group
	g.SetLimit(e.opts.BatchConcurrency)
	for i, item := range items {
		g.Go(func() error {
			decision, err := e.CheckWithCache(ctx, ts, item.Object, item.Relation, item.User, cache)
			if err != nil {
				results[i] = BatchResult{Err: err}
				return nil
			}
			results[i] = BatchResult{Allowed: decision.Allowed}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
