package repository

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/beegy-labs/authorization-service/pkg/datamodel"
	"github.com/beegy-labs/authorization-service/pkg/schema"
)

func tuple(object, relation, user string) schema.TupleKey {
	objType, objID, _ := cut(object)
	userType, rest, _ := cut(user)
	userID, userRel := rest, ""
	for i := 0; i < len(rest); i++ {
		if rest[i] == '#' {
			userID, userRel = rest[:i], rest[i+1:]
			break
		}
	}
	return schema.TupleKey{
		Object:   schema.ObjectRef{Type: objType, ID: objID},
		Relation: relation,
		User:     schema.UserRef{Type: userType, ID: userID, Relation: userRel},
	}
}

func cut(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func TestMemoryRepository_WriteAndRead(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	key := tuple("document:doc1", "viewer", "user:alice")
	watermark, err := repo.WriteTuples(ctx, []schema.TupleKey{key}, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(watermark.IsZero(), qt.IsFalse)

	// forward index
	got, err := repo.ReadObjectTuples(ctx, key.Object, "viewer")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []schema.TupleKey{key})

	// reverse index
	got, err = repo.ReadUserTuples(ctx, key.User, "document")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []schema.TupleKey{key})

	// reverse index filtered by another type is empty
	got, err = repo.ReadUserTuples(ctx, key.User, "folder")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)
}

func TestMemoryRepository_DuplicateAdd(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	key := tuple("document:doc1", "viewer", "user:alice")
	_, err := repo.WriteTuples(ctx, []schema.TupleKey{key}, nil)
	c.Assert(err, qt.IsNil)

	_, err = repo.WriteTuples(ctx, []schema.TupleKey{key}, nil)
	c.Assert(err, qt.Equals, ErrAlreadyExists)
}

func TestMemoryRepository_DeleteMissing(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.WriteTuples(ctx, nil, []schema.TupleKey{tuple("document:doc1", "viewer", "user:alice")})
	c.Assert(err, qt.Equals, ErrTupleNotFound)
}

func TestMemoryRepository_WriteIsAtomic(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	good := tuple("document:doc1", "viewer", "user:alice")
	missing := tuple("document:doc2", "viewer", "user:bob")

	// The add must not survive when the delete in the same batch fails.
	_, err := repo.WriteTuples(ctx, []schema.TupleKey{good}, []schema.TupleKey{missing})
	c.Assert(err, qt.Equals, ErrTupleNotFound)

	got, err := repo.ReadObjectTuples(ctx, good.Object, "viewer")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)
}

func TestMemoryRepository_DeleteRemovesFromIndexes(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	key := tuple("document:doc1", "viewer", "user:alice")
	_, err := repo.WriteTuples(ctx, []schema.TupleKey{key}, nil)
	c.Assert(err, qt.IsNil)
	_, err = repo.WriteTuples(ctx, nil, []schema.TupleKey{key})
	c.Assert(err, qt.IsNil)

	got, err := repo.ReadObjectTuples(ctx, key.Object, "viewer")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)

	got, err = repo.ReadUserTuples(ctx, key.User, "")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)
}

func TestMemoryRepository_ReadTuplesPagination(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	users := []string{"user:alice", "user:bob", "user:carol", "user:dave", "user:erin"}
	for _, u := range users {
		_, err := repo.WriteTuples(ctx, []schema.TupleKey{tuple("document:doc1", "viewer", u)}, nil)
		c.Assert(err, qt.IsNil)
	}

	var all []schema.TupleKey
	pageToken := ""
	for {
		page, next, err := repo.ReadTuples(ctx, TupleFilter{ObjectType: "document"}, 2, pageToken)
		c.Assert(err, qt.IsNil)
		all = append(all, page...)
		if next == "" {
			break
		}
		c.Assert(page, qt.HasLen, 2)
		pageToken = next
	}
	c.Assert(all, qt.HasLen, len(users))

	// filter by user
	page, _, err := repo.ReadTuples(ctx, TupleFilter{
		User:      schema.UserRef{Type: "user", ID: "bob"},
		MatchUser: true,
	}, 10, "")
	c.Assert(err, qt.IsNil)
	c.Assert(page, qt.HasLen, 1)
	c.Assert(page[0].User.ID, qt.Equals, "bob")

	_, _, err = repo.ReadTuples(ctx, TupleFilter{}, 10, "bad token")
	c.Assert(err, qt.Equals, ErrPageTokenDecode)
}

func TestMemoryRepository_ModelLifecycle(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.GetActiveModel(ctx, "default")
	c.Assert(err, qt.Equals, ErrNoActiveModel)

	latest, err := repo.LatestModelVersion(ctx, "default")
	c.Assert(err, qt.IsNil)
	c.Assert(latest, qt.Equals, 0)

	v1 := &datamodel.AuthorizationModel{ModelID: "default", Version: 1, Status: datamodel.StatusDraft, DSLSource: "type user"}
	c.Assert(repo.CreateModel(ctx, v1), qt.IsNil)
	c.Assert(v1.UID.IsNil(), qt.IsFalse)

	// duplicate version is rejected
	dup := &datamodel.AuthorizationModel{ModelID: "default", Version: 1, Status: datamodel.StatusDraft}
	c.Assert(repo.CreateModel(ctx, dup), qt.Equals, ErrModelVersionExists)

	v2 := &datamodel.AuthorizationModel{ModelID: "default", Version: 2, Status: datamodel.StatusDraft, DSLSource: "type user"}
	c.Assert(repo.CreateModel(ctx, v2), qt.IsNil)

	latest, err = repo.LatestModelVersion(ctx, "default")
	c.Assert(err, qt.IsNil)
	c.Assert(latest, qt.Equals, 2)

	// activate v1, then v2; v1 becomes superseded
	c.Assert(repo.ActivateModel(ctx, "default", 1), qt.IsNil)
	active, err := repo.GetActiveModel(ctx, "default")
	c.Assert(err, qt.IsNil)
	c.Assert(active.Version, qt.Equals, 1)

	c.Assert(repo.ActivateModel(ctx, "default", 2), qt.IsNil)
	active, err = repo.GetActiveModel(ctx, "default")
	c.Assert(err, qt.IsNil)
	c.Assert(active.Version, qt.Equals, 2)

	got1, err := repo.GetModel(ctx, "default", 1)
	c.Assert(err, qt.IsNil)
	c.Assert(got1.Status, qt.Equals, datamodel.StatusSuperseded)

	// idempotent re-activation
	c.Assert(repo.ActivateModel(ctx, "default", 2), qt.IsNil)

	// rollback to a superseded version is allowed
	c.Assert(repo.ActivateModel(ctx, "default", 1), qt.IsNil)
	active, err = repo.GetActiveModel(ctx, "default")
	c.Assert(err, qt.IsNil)
	c.Assert(active.Version, qt.Equals, 1)

	c.Assert(repo.ActivateModel(ctx, "default", 9), qt.Equals, ErrNotFound)
}

func TestMemoryRepository_ListModelVersions(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo := NewMemoryRepository()

	for v := 1; v <= 5; v++ {
		m := &datamodel.AuthorizationModel{ModelID: "default", Version: v, Status: datamodel.StatusDraft}
		c.Assert(repo.CreateModel(ctx, m), qt.IsNil)
	}

	page, total, next, err := repo.ListModelVersions(ctx, "default", 2, "")
	c.Assert(err, qt.IsNil)
	c.Assert(total, qt.Equals, int64(5))
	c.Assert(page, qt.HasLen, 2)
	c.Assert(page[0].Version, qt.Equals, 5)
	c.Assert(page[1].Version, qt.Equals, 4)
	c.Assert(next, qt.Not(qt.Equals), "")

	page, _, next, err = repo.ListModelVersions(ctx, "default", 2, next)
	c.Assert(err, qt.IsNil)
	c.Assert(page[0].Version, qt.Equals, 3)
	c.Assert(page[1].Version, qt.Equals, 2)

	page, _, next, err = repo.ListModelVersions(ctx, "default", 2, next)
	c.Assert(err, qt.IsNil)
	c.Assert(page, qt.HasLen, 1)
	c.Assert(page[0].Version, qt.Equals, 1)
	c.Assert(next, qt.Equals, "")
}
