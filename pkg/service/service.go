// Package service implements the authorization facade: model lifecycle,
// tuple writes with referential validation, and query evaluation on a
// compiled snapshot of the active model.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/pmylund/go-cache"

	"github.com/beegy-labs/authorization-service/pkg/datamodel"
	"github.com/beegy-labs/authorization-service/pkg/dsl"
	"github.com/beegy-labs/authorization-service/pkg/engine"
	"github.com/beegy-labs/authorization-service/pkg/repository"
	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// snapshotTTL bounds how long a compiled type system stays cached. Model
// versions are immutable once created, so the TTL only controls memory,
// not correctness.
const snapshotTTL = time.Hour

// Service is the interface for the service layer
type Service interface {

	// Model lifecycle
	CreateModel(ctx context.Context, modelID string, source string) (*datamodel.AuthorizationModel, []dsl.CompileError, error)
	ActivateModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error)
	GetModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error)
	ListModelVersions(ctx context.Context, modelID string, pageSize int64, pageToken string) ([]*datamodel.AuthorizationModel, int64, string, error)

	// Tuple data
	WriteTuples(ctx context.Context, modelID string, adds, deletes []schema.TupleKey) (string, error)
	ReadTuples(ctx context.Context, filter repository.TupleFilter, pageSize int64, pageToken string) ([]schema.TupleKey, string, error)

	// Evaluation
	Check(ctx context.Context, modelID string, modelVersion int, object schema.ObjectRef, relation string, user schema.UserRef, consistencyToken string) (*engine.Decision, int, error)
	BatchCheck(ctx context.Context, modelID string, items []engine.CheckItem, consistencyToken string) ([]engine.BatchResult, int, error)
	ListObjects(ctx context.Context, modelID string, objectType, relation string, user schema.UserRef, pageSize int64, pageToken, consistencyToken string) ([]string, string, int, error)
	ListUsers(ctx context.Context, modelID string, object schema.ObjectRef, relation string, pageSize int64, pageToken, consistencyToken string) ([]schema.UserRef, string, int, error)

	GetRepository() repository.Repository
	GetRedisClient() *redis.Client
}

type service struct {
	repository  repository.Repository
	redisClient *redis.Client
	engine      *engine.Engine
	snapshots   *cache.Cache
}

// NewService returns a new service instance
func NewService(r repository.Repository, rc *redis.Client, opts engine.Options) Service {
	return &service{
		repository:  r,
		redisClient: rc,
		engine:      engine.New(r, opts),
		snapshots:   cache.New(snapshotTTL, 10*time.Minute),
	}
}

func (s *service) GetRepository() repository.Repository {
	return s.repository
}

func (s *service) GetRedisClient() *redis.Client {
	return s.redisClient
}

// CreateModel compiles the source and persists it as a draft with the next
// version number. Compile errors are returned to the caller verbatim and
// nothing is persisted.
func (s *service) CreateModel(ctx context.Context, modelID string, source string) (*datamodel.AuthorizationModel, []dsl.CompileError, error) {
	ts, compileErrs := dsl.Compile(source)
	if len(compileErrs) > 0 {
		return nil, compileErrs, ErrCompileFailed
	}

	latest, err := s.repository.LatestModelVersion(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}

	model := &datamodel.AuthorizationModel{
		ModelID:   modelID,
		Version:   latest + 1,
		Status:    datamodel.StatusDraft,
		DSLSource: source,
	}
	if err := model.SetTypeSystem(ts); err != nil {
		return nil, nil, err
	}
	if err := s.repository.CreateModel(ctx, model); err != nil {
		return nil, nil, err
	}
	return model, nil, nil
}

// ActivateModel promotes the given version to active. The repository
// performs the demote/promote swap in one transaction, so readers observe
// either the old or the new active version, never both or neither.
func (s *service) ActivateModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error) {
	if err := s.repository.ActivateModel(ctx, modelID, version); err != nil {
		return nil, err
	}
	return s.repository.GetModel(ctx, modelID, version)
}

func (s *service) GetModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error) {
	if version <= 0 {
		return s.repository.GetActiveModel(ctx, modelID)
	}
	return s.repository.GetModel(ctx, modelID, version)
}

func (s *service) ListModelVersions(ctx context.Context, modelID string, pageSize int64, pageToken string) ([]*datamodel.AuthorizationModel, int64, string, error) {
	return s.repository.ListModelVersions(ctx, modelID, pageSize, pageToken)
}

// WriteTuples validates every tuple against the active model before
// touching storage, then applies adds and deletes atomically. The returned
// consistency token lets the caller read their own write on a follow-up
// query.
func (s *service) WriteTuples(ctx context.Context, modelID string, adds, deletes []schema.TupleKey) (string, error) {
	if len(adds) == 0 && len(deletes) == 0 {
		return "", ErrEmptyWrite
	}

	ts, _, err := s.activeSnapshot(ctx, modelID)
	if err != nil {
		return "", err
	}
	for _, key := range adds {
		if err := validateTupleKey(ts, key); err != nil {
			return "", err
		}
	}
	for _, key := range deletes {
		if err := validateTupleKey(ts, key); err != nil {
			return "", err
		}
	}

	watermark, err := s.repository.WriteTuples(ctx, adds, deletes)
	if err != nil {
		return "", err
	}
	return repository.EncodeConsistencyToken(watermark), nil
}

func (s *service) ReadTuples(ctx context.Context, filter repository.TupleFilter, pageSize int64, pageToken string) ([]schema.TupleKey, string, error) {
	return s.repository.ReadTuples(ctx, filter, pageSize, pageToken)
}

// Check evaluates one permission query. A positive modelVersion pins the
// query to that exact version instead of the active one.
func (s *service) Check(ctx context.Context, modelID string, modelVersion int, object schema.ObjectRef, relation string, user schema.UserRef, consistencyToken string) (*engine.Decision, int, error) {
	ctx, err := s.applyConsistency(ctx, consistencyToken)
	if err != nil {
		return nil, 0, err
	}
	ts, version, err := s.snapshot(ctx, modelID, modelVersion)
	if err != nil {
		return nil, 0, err
	}
	decision, err := s.engine.Check(ctx, ts, object, relation, user)
	if err != nil {
		return nil, 0, err
	}
	return decision, version, nil
}

func (s *service) BatchCheck(ctx context.Context, modelID string, items []engine.CheckItem, consistencyToken string) ([]engine.BatchResult, int, error) {
	ctx, err := s.applyConsistency(ctx, consistencyToken)
	if err != nil {
		return nil, 0, err
	}
	ts, version, err := s.activeSnapshot(ctx, modelID)
	if err != nil {
		return nil, 0, err
	}
	results, err := s.engine.BatchCheck(ctx, ts, items)
	if err != nil {
		return nil, 0, err
	}
	return results, version, nil
}

func (s *service) ListObjects(ctx context.Context, modelID string, objectType, relation string, user schema.UserRef, pageSize int64, pageToken, consistencyToken string) ([]string, string, int, error) {
	ctx, err := s.applyConsistency(ctx, consistencyToken)
	if err != nil {
		return nil, "", 0, err
	}
	ts, version, err := s.activeSnapshot(ctx, modelID)
	if err != nil {
		return nil, "", 0, err
	}
	objects, nextPageToken, err := s.engine.ListObjects(ctx, ts, objectType, relation, user, pageSize, pageToken)
	if err != nil {
		return nil, "", 0, err
	}
	return objects, nextPageToken, version, nil
}

func (s *service) ListUsers(ctx context.Context, modelID string, object schema.ObjectRef, relation string, pageSize int64, pageToken, consistencyToken string) ([]schema.UserRef, string, int, error) {
	ctx, err := s.applyConsistency(ctx, consistencyToken)
	if err != nil {
		return nil, "", 0, err
	}
	ts, version, err := s.activeSnapshot(ctx, modelID)
	if err != nil {
		return nil, "", 0, err
	}
	users, nextPageToken, err := s.engine.ListUsers(ctx, ts, object, relation, pageSize, pageToken)
	if err != nil {
		return nil, "", 0, err
	}
	return users, nextPageToken, version, nil
}

// applyConsistency routes the request to the primary when the caller
// presents a consistency token. A malformed token fails the request rather
// than silently degrading to a replica read.
func (s *service) applyConsistency(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		return ctx, nil
	}
	if _, err := repository.DecodeConsistencyToken(token); err != nil {
		return nil, err
	}
	return repository.WithPrimaryReads(ctx), nil
}

// activeSnapshot resolves the active model version and its compiled type
// system. Compiled snapshots are cached per (model, version); versions are
// immutable so a hit never needs revalidation.
func (s *service) activeSnapshot(ctx context.Context, modelID string) (*schema.TypeSystem, int, error) {
	model, err := s.repository.GetActiveModel(ctx, modelID)
	if err != nil {
		return nil, 0, err
	}
	return s.compiled(model)
}

// snapshot resolves an explicit version when one is given, the active
// version otherwise.
func (s *service) snapshot(ctx context.Context, modelID string, version int) (*schema.TypeSystem, int, error) {
	if version <= 0 {
		return s.activeSnapshot(ctx, modelID)
	}
	model, err := s.repository.GetModel(ctx, modelID, version)
	if err != nil {
		return nil, 0, err
	}
	return s.compiled(model)
}

func (s *service) compiled(model *datamodel.AuthorizationModel) (*schema.TypeSystem, int, error) {
	key := snapshotKey(model.ModelID, model.Version)
	if cached, ok := s.snapshots.Get(key); ok {
		return cached.(*schema.TypeSystem), model.Version, nil
	}

	ts, err := model.TypeSystem()
	if err != nil {
		return nil, 0, err
	}
	s.snapshots.SetDefault(key, ts)
	return ts, model.Version, nil
}

func snapshotKey(modelID string, version int) string {
	return fmt.Sprintf("%s/%d", modelID, version)
}

func validateTupleKey(ts *schema.TypeSystem, key schema.TupleKey) error {
	if !ts.HasType(key.Object.Type) {
		return ErrUnknownType
	}
	if _, ok := ts.Relation(key.Object.Type, key.Relation); !ok {
		return ErrUnknownRelation
	}
	if key.User.IsUserset() {
		if !ts.HasType(key.User.Type) {
			return ErrUnknownType
		}
		if _, ok := ts.Relation(key.User.Type, key.User.Relation); !ok {
			return ErrUnknownRelation
		}
	}
	return nil
}
