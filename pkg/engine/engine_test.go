package engine_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/beegy-labs/authorization-service/pkg/dsl"
	"github.com/beegy-labs/authorization-service/pkg/engine"
	"github.com/beegy-labs/authorization-service/pkg/repository"
	"github.com/beegy-labs/authorization-service/pkg/schema"
)

const testModel = `
model {
  schema "1.0"
}

type user

type team {
  relations {
    define member
  }
}

type folder {
  relations {
    define parent
    define viewer: self or viewer from parent
  }
}

type document {
  relations {
    define owner
    define editor: self or owner
    define parent
    define banned
    define viewer: self or editor or viewer from parent
    define can_view: viewer but not banned
    define approved
    define restricted_view: viewer and approved
  }
}

type group {
  relations {
    define member
  }
}
`

type fixture struct {
	engine *engine.Engine
	repo   repository.Repository
	ts     *schema.TypeSystem
}

func newFixture(c *qt.C, opts engine.Options) *fixture {
	ts, errs := dsl.Compile(testModel)
	c.Assert(errs, qt.HasLen, 0)

	repo := repository.NewMemoryRepository()
	return &fixture{
		engine: engine.New(repo, opts),
		repo:   repo,
		ts:     ts,
	}
}

func (f *fixture) write(c *qt.C, object, relation, user string) {
	_, err := f.repo.WriteTuples(context.Background(), []schema.TupleKey{key(object, relation, user)}, nil)
	c.Assert(err, qt.IsNil)
}

func (f *fixture) delete(c *qt.C, object, relation, user string) {
	_, err := f.repo.WriteTuples(context.Background(), nil, []schema.TupleKey{key(object, relation, user)})
	c.Assert(err, qt.IsNil)
}

func (f *fixture) check(c *qt.C, object, relation, user string) bool {
	k := key(object, relation, user)
	decision, err := f.engine.Check(context.Background(), f.ts, k.Object, relation, k.User)
	c.Assert(err, qt.IsNil)
	return decision.Allowed
}

func key(object, relation, user string) schema.TupleKey {
	return schema.TupleKey{
		Object:   parseObject(object),
		Relation: relation,
		User:     parseUser(user),
	}
}

func parseObject(s string) schema.ObjectRef {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return schema.ObjectRef{Type: s[:i], ID: s[i+1:]}
		}
	}
	return schema.ObjectRef{Type: s}
}

func parseUser(s string) schema.UserRef {
	obj := s
	relation := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '#' {
			obj, relation = s[:i], s[i+1:]
			break
		}
	}
	ref := parseObject(obj)
	return schema.UserRef{Type: ref.Type, ID: ref.ID, Relation: relation}
}

func TestCheck_WriteReadRoundTrip(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsFalse)
	f.write(c, "document:doc1", "viewer", "user:alice")
	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsTrue)
	c.Assert(f.check(c, "document:doc1", "viewer", "user:bob"), qt.IsFalse)
	c.Assert(f.check(c, "document:doc2", "viewer", "user:alice"), qt.IsFalse)
}

func TestCheck_DeleteRevokes(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "document:doc1", "viewer", "user:alice")
	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsTrue)

	f.delete(c, "document:doc1", "viewer", "user:alice")
	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsFalse)
}

func TestCheck_ComputedUserset(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	// owner grants editor grants viewer, through the rewrite chain
	f.write(c, "document:doc1", "owner", "user:alice")
	c.Assert(f.check(c, "document:doc1", "editor", "user:alice"), qt.IsTrue)
	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsTrue)
	c.Assert(f.check(c, "document:doc1", "owner", "user:bob"), qt.IsFalse)
}

func TestCheck_UsersetSubject(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "team:eng", "member", "user:alice")
	f.write(c, "document:doc1", "viewer", "team:eng#member")

	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsTrue)
	c.Assert(f.check(c, "document:doc1", "viewer", "user:bob"), qt.IsFalse)

	// the userset reference itself also matches directly
	decision, err := f.engine.Check(context.Background(), f.ts,
		schema.ObjectRef{Type: "document", ID: "doc1"}, "viewer",
		schema.UserRef{Type: "team", ID: "eng", Relation: "member"})
	c.Assert(err, qt.IsNil)
	c.Assert(decision.Allowed, qt.IsTrue)
}

func TestCheck_TupleToUserset(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "folder:reports", "viewer", "user:alice")
	f.write(c, "document:doc1", "parent", "folder:reports")

	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsTrue)
	c.Assert(f.check(c, "document:doc1", "viewer", "user:bob"), qt.IsFalse)

	// nested folders chain through the folder's own rewrite
	f.write(c, "folder:q3", "parent", "folder:reports")
	f.write(c, "document:doc2", "parent", "folder:q3")
	c.Assert(f.check(c, "document:doc2", "viewer", "user:alice"), qt.IsTrue)
}

func TestCheck_Exclusion(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "document:doc1", "viewer", "user:alice")
	c.Assert(f.check(c, "document:doc1", "can_view", "user:alice"), qt.IsTrue)

	f.write(c, "document:doc1", "banned", "user:alice")
	c.Assert(f.check(c, "document:doc1", "can_view", "user:alice"), qt.IsFalse)
	// the base relation is unaffected
	c.Assert(f.check(c, "document:doc1", "viewer", "user:alice"), qt.IsTrue)
}

func TestCheck_Intersection(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "document:doc1", "viewer", "user:alice")
	c.Assert(f.check(c, "document:doc1", "restricted_view", "user:alice"), qt.IsFalse)

	f.write(c, "document:doc1", "approved", "user:alice")
	c.Assert(f.check(c, "document:doc1", "restricted_view", "user:alice"), qt.IsTrue)
}

func TestCheck_CycleTerminatesFalse(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	// group:a member <- group:b#member, group:b member <- group:a#member
	f.write(c, "group:a", "member", "group:b#member")
	f.write(c, "group:b", "member", "group:a#member")

	c.Assert(f.check(c, "group:a", "member", "user:alice"), qt.IsFalse)

	// a real membership elsewhere in the cycle still resolves true
	f.write(c, "group:b", "member", "user:alice")
	c.Assert(f.check(c, "group:a", "member", "user:alice"), qt.IsTrue)
}

func TestCheck_CycleIsDeterministic(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "group:a", "member", "group:b#member")
	f.write(c, "group:b", "member", "group:c#member")
	f.write(c, "group:c", "member", "group:a#member")

	for i := 0; i < 50; i++ {
		c.Assert(f.check(c, "group:a", "member", "user:alice"), qt.IsFalse)
	}
}

func TestCheck_DepthExceeded(t *testing.T) {
	c := qt.New(t)
	opts := engine.DefaultOptions()
	opts.MaxDepth = 5
	f := newFixture(c, opts)

	// chain of folders deeper than the depth limit
	for i := 0; i < 10; i++ {
		f.write(c, fmt.Sprintf("folder:f%d", i), "parent", fmt.Sprintf("folder:f%d", i+1))
	}
	f.write(c, "folder:f10", "viewer", "user:alice")

	k := key("folder:f0", "viewer", "user:alice")
	_, err := f.engine.Check(context.Background(), f.ts, k.Object, "viewer", k.User)
	c.Assert(err, qt.Equals, engine.ErrDepthExceeded)
}

func TestCheck_DeadlineExceeded(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	k := key("document:doc1", "viewer", "user:alice")
	_, err := f.engine.Check(ctx, f.ts, k.Object, "viewer", k.User)
	c.Assert(err, qt.Equals, engine.ErrDeadlineExceeded)
}

func TestCheck_UnknownTypeAndRelation(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	_, err := f.engine.Check(context.Background(), f.ts,
		schema.ObjectRef{Type: "ghost", ID: "g1"}, "viewer", schema.UserRef{Type: "user", ID: "alice"})
	c.Assert(err, qt.Equals, engine.ErrTypeNotFound)

	_, err = f.engine.Check(context.Background(), f.ts,
		schema.ObjectRef{Type: "document", ID: "doc1"}, "ghost", schema.UserRef{Type: "user", ID: "alice"})
	c.Assert(err, qt.Equals, engine.ErrRelationNotFound)
}

func TestBatchCheck(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "document:doc1", "viewer", "user:alice")
	f.write(c, "document:doc2", "owner", "user:alice")

	items := []engine.CheckItem{
		{Object: parseObject("document:doc1"), Relation: "viewer", User: parseUser("user:alice")},
		{Object: parseObject("document:doc2"), Relation: "viewer", User: parseUser("user:alice")},
		{Object: parseObject("document:doc1"), Relation: "viewer", User: parseUser("user:bob")},
		{Object: parseObject("document:doc1"), Relation: "ghost", User: parseUser("user:alice")},
	}

	results, err := f.engine.BatchCheck(context.Background(), f.ts, items)
	c.Assert(err, qt.IsNil)
	c.Assert(results, qt.HasLen, 4)
	c.Assert(results[0].Allowed, qt.IsTrue)
	c.Assert(results[1].Allowed, qt.IsTrue) // via owner -> editor -> viewer
	c.Assert(results[2].Allowed, qt.IsFalse)
	c.Assert(results[2].Err, qt.IsNil)
	c.Assert(results[3].Err, qt.Equals, engine.ErrRelationNotFound)
}

func TestBatchCheck_TooLarge(t *testing.T) {
	c := qt.New(t)
	opts := engine.DefaultOptions()
	opts.MaxBatchSize = 2
	f := newFixture(c, opts)

	items := make([]engine.CheckItem, 3)
	for i := range items {
		items[i] = engine.CheckItem{Object: parseObject("document:doc1"), Relation: "viewer", User: parseUser("user:alice")}
	}
	_, err := f.engine.BatchCheck(context.Background(), f.ts, items)
	c.Assert(err, qt.Equals, engine.ErrBatchTooLarge)
}

func TestListObjects_AgreesWithCheck(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	// direct, userset, rewrite and tupleset grants plus an exclusion
	f.write(c, "document:direct", "viewer", "user:alice")
	f.write(c, "document:owned", "owner", "user:alice")
	f.write(c, "team:eng", "member", "user:alice")
	f.write(c, "document:teamdoc", "viewer", "team:eng#member")
	f.write(c, "folder:shared", "viewer", "user:alice")
	f.write(c, "document:infolder", "parent", "folder:shared")
	f.write(c, "document:other", "viewer", "user:bob")

	docIDs := []string{"direct", "owned", "teamdoc", "infolder", "other"}

	for _, relation := range []string{"viewer", "can_view", "owner"} {
		objects, next, err := f.engine.ListObjects(context.Background(), f.ts,
			"document", relation, parseUser("user:alice"), 100, "")
		c.Assert(err, qt.IsNil)
		c.Assert(next, qt.Equals, "")

		var expected []string
		for _, id := range docIDs {
			if f.check(c, "document:"+id, relation, "user:alice") {
				expected = append(expected, id)
			}
		}
		sort.Strings(expected)
		if expected == nil {
			expected = []string{}
		}
		c.Assert(objects, qt.DeepEquals, expected, qt.Commentf("relation %q", relation))
	}
}

func TestListObjects_ExcludesBanned(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "document:doc1", "viewer", "user:alice")
	f.write(c, "document:doc2", "viewer", "user:alice")
	f.write(c, "document:doc2", "banned", "user:alice")

	objects, _, err := f.engine.ListObjects(context.Background(), f.ts,
		"document", "can_view", parseUser("user:alice"), 100, "")
	c.Assert(err, qt.IsNil)
	c.Assert(objects, qt.DeepEquals, []string{"doc1"})
}

func TestListObjects_Pagination(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	for i := 0; i < 7; i++ {
		f.write(c, fmt.Sprintf("document:doc%d", i), "viewer", "user:alice")
	}

	var all []string
	pageToken := ""
	for {
		page, next, err := f.engine.ListObjects(context.Background(), f.ts,
			"document", "viewer", parseUser("user:alice"), 3, pageToken)
		c.Assert(err, qt.IsNil)
		all = append(all, page...)
		if next == "" {
			break
		}
		c.Assert(page, qt.HasLen, 3)
		pageToken = next
	}
	c.Assert(all, qt.DeepEquals, []string{"doc0", "doc1", "doc2", "doc3", "doc4", "doc5", "doc6"})
}

func TestListUsers(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "document:doc1", "viewer", "user:alice")
	f.write(c, "team:eng", "member", "user:bob")
	f.write(c, "team:eng", "member", "user:carol")
	f.write(c, "document:doc1", "viewer", "team:eng#member")
	f.write(c, "document:doc1", "banned", "user:carol")

	users, next, err := f.engine.ListUsers(context.Background(), f.ts,
		parseObject("document:doc1"), "viewer", 100, "")
	c.Assert(err, qt.IsNil)
	c.Assert(next, qt.Equals, "")
	c.Assert(refs(users), qt.DeepEquals, []string{"user:alice", "user:bob", "user:carol"})

	// exclusion removes the banned user
	users, _, err = f.engine.ListUsers(context.Background(), f.ts,
		parseObject("document:doc1"), "can_view", 100, "")
	c.Assert(err, qt.IsNil)
	c.Assert(refs(users), qt.DeepEquals, []string{"user:alice", "user:bob"})
}

func TestListUsers_CycleTerminates(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, engine.DefaultOptions())

	f.write(c, "group:a", "member", "group:b#member")
	f.write(c, "group:b", "member", "group:a#member")
	f.write(c, "group:b", "member", "user:alice")

	users, _, err := f.engine.ListUsers(context.Background(), f.ts,
		parseObject("group:a"), "member", 100, "")
	c.Assert(err, qt.IsNil)
	c.Assert(refs(users), qt.DeepEquals, []string{"user:alice"})
}

func refs(users []schema.UserRef) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.String()
	}
	return out
}
