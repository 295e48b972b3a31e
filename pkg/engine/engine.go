// Package engine evaluates permission queries against a compiled model and
// the tuple store: point checks, batched checks with a shared evaluation
// cache, and the reverse queries ListObjects and ListUsers.
//
// Every evaluation is bounded: a request-scoped visited set makes cyclic
// tuple graphs terminate with a deterministic false, and a recursion depth
// limit fails closed with ErrDepthExceeded on pathological models.
package engine

import (
	"context"
	"sync"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// TupleReader is the slice of the tuple store the evaluator needs: the
// forward index for expansion and the reverse index for ListObjects.
type TupleReader interface {
	ReadObjectTuples(ctx context.Context, object schema.ObjectRef, relation string) ([]schema.TupleKey, error)
	ReadUserTuples(ctx context.Context, user schema.UserRef, objectType string) ([]schema.TupleKey, error)
}

// Options are the evaluation bounds. The exact production limits are
// deployment-specific, so everything is tunable with conservative defaults.
type Options struct {
	// MaxDepth bounds rewrite-rule recursion. Exceeding it is an error
	// (fail closed), not a false.
	MaxDepth int
	// EvalConcurrency bounds parallel branch evaluation inside one check.
	EvalConcurrency int
	// BatchConcurrency bounds parallel items within one BatchCheck.
	BatchConcurrency int
	// MaxBatchSize rejects oversized BatchCheck requests.
	MaxBatchSize int
	// MaxListResults caps the candidates a reverse expansion will follow.
	MaxListResults int
}

// DefaultOptions returns the conservative defaults.
func DefaultOptions() Options {
	return Options{
		MaxDepth:         25,
		EvalConcurrency:  8,
		BatchConcurrency: 16,
		MaxBatchSize:     32,
		MaxListResults:   1000,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxDepth <= 0 {
		o.MaxDepth = def.MaxDepth
	}
	if o.EvalConcurrency <= 0 {
		o.EvalConcurrency = def.EvalConcurrency
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = def.BatchConcurrency
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = def.MaxBatchSize
	}
	if o.MaxListResults <= 0 {
		o.MaxListResults = def.MaxListResults
	}
	return o
}

// Engine evaluates queries. It is stateless across requests; all mutable
// evaluation state is request-scoped.
type Engine struct {
	tuples TupleReader
	opts   Options
}

// New builds an engine over a tuple reader.
func New(tuples TupleReader, opts Options) *Engine {
	return &Engine{tuples: tuples, opts: opts.withDefaults()}
}

// Decision is the outcome of a single check. Resolution describes the
// granting path (outermost first) when Allowed is true.
type Decision struct {
	Allowed    bool
	Resolution []string
}

// resultCache shares sub-evaluation results between overlapping checks
// within a single request or batch. Entries are write-once; results tainted
// by the cycle guard are never stored because they depend on the path that
// reached them.
type resultCache struct {
	mu sync.Mutex
	m  map[string]bool
}

func newResultCache() *resultCache {
	return &resultCache{m: map[string]bool{}}
}

func (c *resultCache) get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *resultCache) put(key string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; !ok {
		c.m[key] = v
	}
}

func cacheKey(object schema.ObjectRef, relation string, user schema.UserRef) string {
	return object.String() + "#" + relation + "@" + user.String()
}
