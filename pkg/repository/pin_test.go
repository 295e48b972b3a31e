package repository_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/beegy-labs/authorization-service/config"
	"github.com/beegy-labs/authorization-service/pkg/constant"
	"github.com/beegy-labs/authorization-service/pkg/repository"
)

func TestPinCaller(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	config.Config.Database.Replica.ReplicationTimeFrame = 60
	repo := repository.NewRepository(nil, rc)

	// unauthenticated traffic never pins
	repo.PinCaller(context.Background())
	require.Empty(t, mr.Keys())

	ctx := constant.WithCaller(context.Background(), "caller-1")
	repo.PinCaller(ctx)

	key := "authz:db_pin:caller-1"
	require.True(t, mr.Exists(key))
	require.Greater(t, mr.TTL(key).Seconds(), float64(0))
}
