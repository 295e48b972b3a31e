//go:build dbtest
// +build dbtest

package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	qt "github.com/frankban/quicktest"

	"github.com/beegy-labs/authorization-service/config"
	"github.com/beegy-labs/authorization-service/pkg/datamodel"
	"github.com/beegy-labs/authorization-service/pkg/dsl"
	"github.com/beegy-labs/authorization-service/pkg/repository"
	"github.com/beegy-labs/authorization-service/pkg/schema"

	database "github.com/beegy-labs/authorization-service/pkg/db"
)

var db *gorm.DB

func TestMain(m *testing.M) {
	if err := config.Init("../../config/config.yaml"); err != nil {
		panic(err)
	}

	db = database.GetConnection()
	db.Logger = logger.Default.LogMode(logger.Info)
	exitCode := m.Run()
	database.Close(db)

	os.Exit(exitCode)
}

func draftModel(c *qt.C, modelID string, version int) *datamodel.AuthorizationModel {
	ts, errs := dsl.Compile("type user\n\ntype document {\n  relations {\n    define viewer\n  }\n}\n")
	c.Assert(errs, qt.HasLen, 0)

	model := &datamodel.AuthorizationModel{
		ModelID:   modelID,
		Version:   version,
		Status:    datamodel.StatusDraft,
		DSLSource: "type user",
	}
	c.Assert(model.SetTypeSystem(ts), qt.IsNil)
	return model
}

func TestRepository(t *testing.T) {
	c := qt.New(t)

	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})

	tx := db.Begin()
	c.Cleanup(func() { tx.Rollback() })

	repo := repository.NewRepository(tx, rc)
	ctx := context.Background()

	// model lifecycle
	require.NoError(t, repo.CreateModel(ctx, draftModel(c, "dbtest", 1)))
	require.NoError(t, repo.CreateModel(ctx, draftModel(c, "dbtest", 2)))
	require.ErrorIs(t, repo.CreateModel(ctx, draftModel(c, "dbtest", 2)), repository.ErrModelVersionExists)

	latest, err := repo.LatestModelVersion(ctx, "dbtest")
	require.NoError(t, err)
	require.Equal(t, 2, latest)

	_, err = repo.GetActiveModel(ctx, "dbtest")
	require.ErrorIs(t, err, repository.ErrNoActiveModel)

	require.NoError(t, repo.ActivateModel(ctx, "dbtest", 1))
	active, err := repo.GetActiveModel(ctx, "dbtest")
	require.NoError(t, err)
	require.Equal(t, 1, active.Version)

	require.NoError(t, repo.ActivateModel(ctx, "dbtest", 2))
	superseded, err := repo.GetModel(ctx, "dbtest", 1)
	require.NoError(t, err)
	require.Equal(t, datamodel.StatusSuperseded, superseded.Status)

	models, total, _, err := repo.ListModelVersions(ctx, "dbtest", 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, 2, models[0].Version)

	// tuples
	key := schema.TupleKey{
		Object:   schema.ObjectRef{Type: "document", ID: "doc1"},
		Relation: "viewer",
		User:     schema.UserRef{Type: "user", ID: "alice"},
	}
	_, err = repo.WriteTuples(ctx, []schema.TupleKey{key}, nil)
	require.NoError(t, err)
	_, err = repo.WriteTuples(ctx, []schema.TupleKey{key}, nil)
	require.ErrorIs(t, err, repository.ErrAlreadyExists)

	forward, err := repo.ReadObjectTuples(ctx, key.Object, key.Relation)
	require.NoError(t, err)
	require.Len(t, forward, 1)
	require.Equal(t, key, forward[0])

	reverse, err := repo.ReadUserTuples(ctx, key.User, "document")
	require.NoError(t, err)
	require.Len(t, reverse, 1)

	page, _, err := repo.ReadTuples(ctx, repository.TupleFilter{ObjectType: "document"}, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 1)

	_, err = repo.WriteTuples(ctx, nil, []schema.TupleKey{key})
	require.NoError(t, err)
	_, err = repo.WriteTuples(ctx, nil, []schema.TupleKey{key})
	require.ErrorIs(t, err, repository.ErrTupleNotFound)
}
