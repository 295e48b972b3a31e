package engine

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// resolutionContext is the arena of request-scoped evaluation state: the
// pinned model, the shared result cache, the visited set guarding cyclic
// tuple graphs and the current recursion depth.
type resolutionContext struct {
	ts      *schema.TypeSystem
	cache   *resultCache
	visited map[string]bool
	depth   int
}

// clone copies the mutable parts so a concurrent branch can evaluate
// without racing on the visited set. The cache is shared by design.
func (rctx *resolutionContext) clone() *resolutionContext {
	visited := make(map[string]bool, len(rctx.visited))
	for k, v := range rctx.visited {
		visited[k] = v
	}
	return &resolutionContext{ts: rctx.ts, cache: rctx.cache, visited: visited, depth: rctx.depth}
}

// Check determines whether user holds relation on object under the given
// model. For a fixed model and tuple snapshot the result is deterministic.
func (e *Engine) Check(ctx context.Context, ts *schema.TypeSystem, object schema.ObjectRef, relation string, user schema.UserRef) (*Decision, error) {
	return e.CheckWithCache(ctx, ts, object, relation, user, newResultCache())
}

// CheckWithCache is Check with a caller-supplied result cache, so a batch
// of overlapping checks shares sub-evaluations.
func (e *Engine) CheckWithCache(ctx context.Context, ts *schema.TypeSystem, object schema.ObjectRef, relation string, user schema.UserRef, cache *resultCache) (*Decision, error) {
	if !ts.HasType(object.Type) {
		return nil, ErrTypeNotFound
	}
	if _, ok := ts.Relation(object.Type, relation); !ok {
		return nil, ErrRelationNotFound
	}
	rctx := &resolutionContext{ts: ts, cache: cache, visited: map[string]bool{}}
	allowed, _, resolution, err := e.checkKey(ctx, rctx, object, relation, user)
	if err != nil {
		return nil, err
	}
	return &Decision{Allowed: allowed, Resolution: resolution}, nil
}

// checkKey evaluates one (object, relation, user) triple. The second return
// reports whether the cycle guard fired anywhere in the subtree; such
// results are path-dependent and are kept out of the cache.
func (e *Engine) checkKey(ctx context.Context, rctx *resolutionContext, object schema.ObjectRef, relation string, user schema.UserRef) (bool, bool, []string, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, false, nil, ErrDeadlineExceeded
		}
		return false, false, nil, err
	}
	if rctx.depth >= e.opts.MaxDepth {
		return false, false, nil, ErrDepthExceeded
	}

	key := cacheKey(object, relation, user)
	if rctx.visited[key] {
		// Re-entering a triple already on the path: a cycle through live
		// data. Terminate deterministically with false.
		return false, true, nil, nil
	}
	if v, ok := rctx.cache.get(key); ok {
		return v, false, nil, nil
	}

	rule, ok := rctx.ts.Relation(object.Type, relation)
	if !ok {
		// A stored tuple can point at a type or relation a newer model no
		// longer defines. That grants nothing.
		return false, false, nil, nil
	}

	rctx.visited[key] = true
	rctx.depth++
	allowed, cycled, resolution, err := e.checkRewrite(ctx, rctx, object, relation, user, rule)
	rctx.depth--
	delete(rctx.visited, key)

	if err != nil {
		return false, false, nil, err
	}
	if !cycled {
		rctx.cache.put(key, allowed)
	}
	if allowed {
		resolution = append([]string{object.String() + "#" + relation}, resolution...)
	}
	return allowed, cycled, resolution, nil
}

func (e *Engine) checkRewrite(ctx context.Context, rctx *resolutionContext, object schema.ObjectRef, relation string, user schema.UserRef, rule schema.RewriteRule) (bool, bool, []string, error) {
	switch r := rule.(type) {
	case schema.This:
		return e.checkThis(ctx, rctx, object, relation, user)

	case schema.ComputedUserset:
		return e.checkKey(ctx, rctx, object, r.Relation, user)

	case schema.TupleToUserset:
		return e.checkTupleToUserset(ctx, rctx, object, user, r)

	case schema.Union:
		return e.checkUnion(ctx, rctx, object, relation, user, r.Children)

	case schema.Intersection:
		cycled := false
		var resolution []string
		for _, child := range r.Children {
			allowed, childCycled, childRes, err := e.checkRewrite(ctx, rctx, object, relation, user, child)
			if err != nil {
				return false, false, nil, err
			}
			cycled = cycled || childCycled
			if !allowed {
				return false, cycled, nil, nil
			}
			resolution = append(resolution, childRes...)
		}
		return true, cycled, resolution, nil

	case schema.Exclusion:
		allowed, cycled, resolution, err := e.checkRewrite(ctx, rctx, object, relation, user, r.Base)
		if err != nil {
			return false, false, nil, err
		}
		if !allowed {
			return false, cycled, nil, nil
		}
		subtracted, subCycled, _, err := e.checkRewrite(ctx, rctx, object, relation, user, r.Subtract)
		if err != nil {
			return false, false, nil, err
		}
		return !subtracted, cycled || subCycled, resolution, nil

	default:
		return false, false, nil, ErrRelationNotFound
	}
}

// checkThis matches direct tuples and expands userset subjects.
func (e *Engine) checkThis(ctx context.Context, rctx *resolutionContext, object schema.ObjectRef, relation string, user schema.UserRef) (bool, bool, []string, error) {
	tuples, err := e.tuples.ReadObjectTuples(ctx, object, relation)
	if err != nil {
		return false, false, nil, err
	}

	for _, t := range tuples {
		if t.User == user {
			return true, false, []string{"tuple " + t.String()}, nil
		}
	}
	cycled := false
	for _, t := range tuples {
		if !t.User.IsUserset() {
			continue
		}
		allowed, childCycled, resolution, err := e.checkKey(ctx, rctx, t.User.Object(), t.User.Relation, user)
		if err != nil {
			return false, false, nil, err
		}
		cycled = cycled || childCycled
		if allowed {
			return true, cycled, append([]string{"tuple " + t.String()}, resolution...), nil
		}
	}
	return false, cycled, nil, nil
}

// checkTupleToUserset follows the tupleset relation to target objects and
// evaluates the computed relation there.
func (e *Engine) checkTupleToUserset(ctx context.Context, rctx *resolutionContext, object schema.ObjectRef, user schema.UserRef, rule schema.TupleToUserset) (bool, bool, []string, error) {
	tuples, err := e.tuples.ReadObjectTuples(ctx, object, rule.TuplesetRelation)
	if err != nil {
		return false, false, nil, err
	}

	cycled := false
	for _, t := range tuples {
		target := t.User.Object()
		allowed, childCycled, resolution, err := e.checkKey(ctx, rctx, target, rule.ComputedRelation, user)
		if err != nil {
			return false, false, nil, err
		}
		cycled = cycled || childCycled
		if allowed {
			return true, cycled, append([]string{"tuple " + t.String()}, resolution...), nil
		}
	}
	return false, cycled, nil, nil
}

// checkUnion evaluates OR branches, fanning out concurrently when the
// branch count warrants it. The join is order-independent: the boolean
// outcome is the OR of all branches no matter which finishes first.
func (e *Engine) checkUnion(ctx context.Context, rctx *resolutionContext, object schema.ObjectRef, relation string, user schema.UserRef, children []schema.RewriteRule) (bool, bool, []string, error) {
	if len(children) == 1 {
		return e.checkRewrite(ctx, rctx, object, relation, user, children[0])
	}
	if e.opts.EvalConcurrency <= 1 || len(children) == 2 {
		cycled := false
		for _, child := range children {
			allowed, childCycled, resolution, err := e.checkRewrite(ctx, rctx, object, relation, user, child)
			if err != nil {
				return false, false, nil, err
			}
			cycled = cycled || childCycled
			if allowed {
				return true, cycled, resolution, nil
			}
		}
		return false, cycled, nil, nil
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		found      bool
		cycled     bool
		resolution []string
	)
	g, groupCtx := errgroup.WithContext(groupCtx)
	g.SetLimit(e.opts.EvalConcurrency)

	for _, child := range children {
		branch := rctx.clone()
		g.Go(func() error {
			allowed, childCycled, childRes, err := e.checkRewrite(groupCtx, branch, object, relation, user, child)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			cycled = cycled || childCycled
			if allowed && !found {
				found = true
				resolution = childRes
				cancel() // short-circuit the remaining branches
			}
			return nil
		})
	}

	err := g.Wait()
	if found {
		// A definite true wins regardless of sibling cancellation noise.
		return true, cycled, resolution, nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return false, cycled, nil, nil
		}
		return false, false, nil, err
	}
	return false, cycled, nil, nil
}
