package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// DefaultListPageSize is used when a list request does not set a page size.
const DefaultListPageSize = 50

// MaxListPageSize caps the page size of list queries.
const MaxListPageSize = 200

var errListCursorDecode = status.New(codes.InvalidArgument, "page token decode error").Err()

const listCursorPrefix = "lc1:"

func encodeListCursor(last string) string {
	return base64.StdEncoding.EncodeToString([]byte(listCursorPrefix + last))
}

func decodeListCursor(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", errListCursorDecode
	}
	last, ok := strings.CutPrefix(string(raw), listCursorPrefix)
	if !ok {
		return "", errListCursorDecode
	}
	return last, nil
}

func clampPageSize(pageSize int64) int {
	if pageSize <= 0 {
		return DefaultListPageSize
	}
	if pageSize > MaxListPageSize {
		return MaxListPageSize
	}
	return int(pageSize)
}

// ListObjects returns the IDs of every object of objectType on which user
// holds relation. It walks the reverse (by-user) index from the user
// outward, through userset memberships and tupleset references, to
// collect candidate objects, then confirms each candidate with the forward
// evaluator. The confirmation step makes the forward/reverse paths agree by
// construction: nothing is returned that Check would deny.
func (e *Engine) ListObjects(ctx context.Context, ts *schema.TypeSystem, objectType, relation string, user schema.UserRef, pageSize int64, pageToken string) ([]string, string, error) {
	if !ts.HasType(objectType) {
		return nil, "", ErrTypeNotFound
	}
	if _, ok := ts.Relation(objectType, relation); !ok {
		return nil, "", ErrRelationNotFound
	}

	candidates, err := e.collectCandidateObjects(ctx, ts, objectType, relation, user)
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	after := ""
	if pageToken != "" {
		if after, err = decodeListCursor(pageToken); err != nil {
			return nil, "", err
		}
	}

	limit := clampPageSize(pageSize)
	cache := newResultCache()
	page := make([]string, 0, limit)
	nextPageToken := ""

	for _, id := range ids {
		if after != "" && id <= after {
			continue
		}
		decision, err := e.CheckWithCache(ctx, ts, schema.ObjectRef{Type: objectType, ID: id}, relation, user, cache)
		if err != nil {
			return nil, "", err
		}
		if !decision.Allowed {
			continue
		}
		if len(page) == limit {
			// One more allowed object exists beyond this page.
			nextPageToken = encodeListCursor(page[len(page)-1])
			break
		}
		page = append(page, id)
	}
	return page, nextPageToken, nil
}

// collectCandidateObjects performs the reverse frontier walk. Starting from
// the user, every tuple naming the current frontier as its subject is
// followed; objects of the target type whose relation is in the rewrite
// closure become candidates, and each discovered object re-enters the
// frontier both as a concrete reference (tupleset hops) and as a userset
// (membership hops). The walk is hop-bounded by MaxDepth and size-bounded
// by MaxListResults; the over-approximation is corrected by the Check
// filter in ListObjects.
func (e *Engine) collectCandidateObjects(ctx context.Context, ts *schema.TypeSystem, objectType, relation string, user schema.UserRef) (map[string]struct{}, error) {
	closure := ts.RelevantRelations(objectType, relation)

	candidates := map[string]struct{}{}
	seen := map[string]bool{user.String(): true}
	frontier := []schema.UserRef{user}

	for hop := 0; hop < e.opts.MaxDepth && len(frontier) > 0; hop++ {
		var next []schema.UserRef
		for _, subject := range frontier {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, ErrDeadlineExceeded
				}
				return nil, err
			}

			tuples, err := e.tuples.ReadUserTuples(ctx, subject, "")
			if err != nil {
				return nil, err
			}
			for _, t := range tuples {
				// The closure gates candidate admission only. Traversal
				// must not be pruned by it: a membership relation (e.g.
				// team#member) is reachable through tuple data alone and
				// never appears in the target's rewrite closure.
				if _, relevant := closure[t.Relation]; relevant && t.Object.Type == objectType {
					candidates[t.Object.ID] = struct{}{}
					if len(candidates) >= e.opts.MaxListResults {
						return candidates, nil
					}
				}

				// The discovered object can itself be the subject of
				// further tuples: as a concrete reference when used as a
				// tupleset target, or as a userset for membership chains.
				concrete := schema.UserRef{Type: t.Object.Type, ID: t.Object.ID}
				userset := schema.UserRef{Type: t.Object.Type, ID: t.Object.ID, Relation: t.Relation}
				for _, s := range []schema.UserRef{concrete, userset} {
					if !seen[s.String()] {
						seen[s.String()] = true
						next = append(next, s)
					}
				}
			}
		}
		frontier = next
	}
	return candidates, nil
}

// ListUsers returns the concrete users holding relation on object, with
// userset references expanded recursively under the same cycle and depth
// guards as Check.
func (e *Engine) ListUsers(ctx context.Context, ts *schema.TypeSystem, object schema.ObjectRef, relation string, pageSize int64, pageToken string) ([]schema.UserRef, string, error) {
	if !ts.HasType(object.Type) {
		return nil, "", ErrTypeNotFound
	}
	if _, ok := ts.Relation(object.Type, relation); !ok {
		return nil, "", ErrRelationNotFound
	}

	ectx := &expandContext{ts: ts, visited: map[string]bool{}}
	users, err := e.expandUsers(ctx, ectx, object, relation)
	if err != nil {
		return nil, "", err
	}

	refs := make([]string, 0, len(users))
	for ref := range users {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	after := ""
	if pageToken != "" {
		if after, err = decodeListCursor(pageToken); err != nil {
			return nil, "", err
		}
	}

	limit := clampPageSize(pageSize)
	page := make([]schema.UserRef, 0, limit)
	nextPageToken := ""
	for _, ref := range refs {
		if after != "" && ref <= after {
			continue
		}
		if len(page) == limit {
			nextPageToken = encodeListCursor(page[len(page)-1].String())
			break
		}
		page = append(page, users[ref])
	}
	return page, nextPageToken, nil
}

type expandContext struct {
	ts      *schema.TypeSystem
	visited map[string]bool
	depth   int
}

// expandUsers evaluates the rewrite rule for (object, relation) into the
// set of concrete users satisfying it, keyed by their reference string.
func (e *Engine) expandUsers(ctx context.Context, ectx *expandContext, object schema.ObjectRef, relation string) (map[string]schema.UserRef, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrDeadlineExceeded
		}
		return nil, err
	}
	if ectx.depth >= e.opts.MaxDepth {
		return nil, ErrDepthExceeded
	}

	key := object.String() + "#" + relation
	if ectx.visited[key] {
		return map[string]schema.UserRef{}, nil
	}

	rule, ok := ectx.ts.Relation(object.Type, relation)
	if !ok {
		return map[string]schema.UserRef{}, nil
	}

	ectx.visited[key] = true
	ectx.depth++
	users, err := e.expandRewrite(ctx, ectx, object, relation, rule)
	ectx.depth--
	delete(ectx.visited, key)
	return users, err
}

func (e *Engine) expandRewrite(ctx context.Context, ectx *expandContext, object schema.ObjectRef, relation string, rule schema.RewriteRule) (map[string]schema.UserRef, error) {
	switch r := rule.(type) {
	case schema.This:
		out := map[string]schema.UserRef{}
		tuples, err := e.tuples.ReadObjectTuples(ctx, object, relation)
		if err != nil {
			return nil, err
		}
		for _, t := range tuples {
			if !t.User.IsUserset() {
				out[t.User.String()] = t.User
				continue
			}
			members, err := e.expandUsers(ctx, ectx, t.User.Object(), t.User.Relation)
			if err != nil {
				return nil, err
			}
			mergeUsers(out, members)
		}
		return out, nil

	case schema.ComputedUserset:
		return e.expandUsers(ctx, ectx, object, r.Relation)

	case schema.TupleToUserset:
		out := map[string]schema.UserRef{}
		tuples, err := e.tuples.ReadObjectTuples(ctx, object, r.TuplesetRelation)
		if err != nil {
			return nil, err
		}
		for _, t := range tuples {
			members, err := e.expandUsers(ctx, ectx, t.User.Object(), r.ComputedRelation)
			if err != nil {
				return nil, err
			}
			mergeUsers(out, members)
		}
		return out, nil

	case schema.Union:
		out := map[string]schema.UserRef{}
		for _, child := range r.Children {
			members, err := e.expandRewrite(ctx, ectx, object, relation, child)
			if err != nil {
				return nil, err
			}
			mergeUsers(out, members)
		}
		return out, nil

	case schema.Intersection:
		var out map[string]schema.UserRef
		for _, child := range r.Children {
			members, err := e.expandRewrite(ctx, ectx, object, relation, child)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = members
				continue
			}
			for ref := range out {
				if _, ok := members[ref]; !ok {
					delete(out, ref)
				}
			}
		}
		if out == nil {
			out = map[string]schema.UserRef{}
		}
		return out, nil

	case schema.Exclusion:
		base, err := e.expandRewrite(ctx, ectx, object, relation, r.Base)
		if err != nil {
			return nil, err
		}
		subtract, err := e.expandRewrite(ctx, ectx, object, relation, r.Subtract)
		if err != nil {
			return nil, err
		}
		for ref := range subtract {
			delete(base, ref)
		}
		return base, nil

	default:
		return nil, ErrRelationNotFound
	}
}

func mergeUsers(dst, src map[string]schema.UserRef) {
	for ref, user := range src {
		dst[ref] = user
	}
}
