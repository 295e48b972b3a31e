// Package repository implements the Model Store and the Tuple Store over
// postgres, with redis-backed read-after-write pinning. The same interface
// has an in-memory implementation (memory.go) used by tests and embedded
// deployments.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/beegy-labs/authorization-service/config"
	"github.com/beegy-labs/authorization-service/pkg/constant"
	"github.com/beegy-labs/authorization-service/pkg/datamodel"
	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// DefaultPageSize is used when the request does not set a page size.
const DefaultPageSize = 10

// MaxPageSize caps the page size of list queries.
const MaxPageSize = 100

// TupleFilter selects tuples by any combination of fields. Empty string
// fields match everything. MatchUser additionally requires the full user
// reference (type, id, relation) to match exactly, distinguishing a filter
// for concrete users from "any subject".
type TupleFilter struct {
	ObjectType string
	ObjectID   string
	Relation   string
	User       schema.UserRef
	MatchUser  bool
}

// Repository is the durable storage boundary: versioned authorization
// models and relationship tuples with forward (by object) and reverse
// (by user) indexes.
type Repository interface {
	CreateModel(ctx context.Context, model *datamodel.AuthorizationModel) error
	GetModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error)
	GetActiveModel(ctx context.Context, modelID string) (*datamodel.AuthorizationModel, error)
	LatestModelVersion(ctx context.Context, modelID string) (int, error)
	ListModelVersions(ctx context.Context, modelID string, pageSize int64, pageToken string) ([]*datamodel.AuthorizationModel, int64, string, error)
	ActivateModel(ctx context.Context, modelID string, version int) error

	WriteTuples(ctx context.Context, adds, deletes []schema.TupleKey) (time.Time, error)
	ReadObjectTuples(ctx context.Context, object schema.ObjectRef, relation string) ([]schema.TupleKey, error)
	ReadUserTuples(ctx context.Context, user schema.UserRef, objectType string) ([]schema.TupleKey, error)
	ReadTuples(ctx context.Context, filter TupleFilter, pageSize int64, pageToken string) ([]schema.TupleKey, string, error)

	PinCaller(ctx context.Context)
}

type repository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewRepository initiates a postgres-backed repository instance.
func NewRepository(db *gorm.DB, redisClient *redis.Client) Repository {
	return &repository{db: db, redisClient: redisClient}
}

// PinCaller directs the caller's subsequent reads to the primary database
// for the replication time frame, so its own writes are always visible to it
// even before the replicas catch up.
func (r *repository) PinCaller(ctx context.Context) {
	if r.redisClient == nil {
		return
	}
	caller := constant.CallerFromContext(ctx)
	if caller == "" {
		return
	}
	timeFrame := time.Duration(config.Config.Database.Replica.ReplicationTimeFrame) * time.Second
	_ = r.redisClient.Set(ctx, fmt.Sprintf("authz:db_pin:%s", caller), time.Now(), timeFrame)
}

// readDB routes a read to the primary when the request carries a
// consistency token or the caller was recently pinned by a write.
func (r *repository) readDB(ctx context.Context) *gorm.DB {
	db := r.db.WithContext(ctx)
	if primaryReadsRequested(ctx) {
		return db.Clauses(dbresolver.Write)
	}
	if r.redisClient != nil {
		caller := constant.CallerFromContext(ctx)
		if caller != "" && !errors.Is(r.redisClient.Get(ctx, fmt.Sprintf("authz:db_pin:%s", caller)).Err(), redis.Nil) {
			return db.Clauses(dbresolver.Write)
		}
	}
	return db
}

func (r *repository) CreateModel(ctx context.Context, model *datamodel.AuthorizationModel) error {
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrModelVersionExists
		}
		return err
	}
	return nil
}

func (r *repository) GetModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error) {
	var model datamodel.AuthorizationModel
	result := r.readDB(ctx).
		Where("model_id = ? AND version = ?", modelID, version).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &model, nil
}

func (r *repository) GetActiveModel(ctx context.Context, modelID string) (*datamodel.AuthorizationModel, error) {
	var model datamodel.AuthorizationModel
	result := r.readDB(ctx).
		Where("model_id = ? AND status = ?", modelID, datamodel.StatusActive).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveModel
		}
		return nil, result.Error
	}
	return &model, nil
}

func (r *repository) LatestModelVersion(ctx context.Context, modelID string) (int, error) {
	var version *int
	err := r.db.WithContext(ctx).Clauses(dbresolver.Write).
		Model(&datamodel.AuthorizationModel{}).
		Where("model_id = ?", modelID).
		Select("MAX(version)").
		Scan(&version).Error
	if err != nil {
		return 0, err
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

func (r *repository) ListModelVersions(ctx context.Context, modelID string, pageSize int64, pageToken string) ([]*datamodel.AuthorizationModel, int64, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	db := r.readDB(ctx).Model(&datamodel.AuthorizationModel{}).Where("model_id = ?", modelID)

	var totalSize int64
	if err := db.Session(&gorm.Session{}).Count(&totalSize).Error; err != nil {
		return nil, 0, "", err
	}

	queryBuilder := db.Session(&gorm.Session{}).Order("version DESC")
	if pageToken != "" {
		createTime, uid, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, 0, "", err
		}
		var cursor datamodel.AuthorizationModel
		if err := r.readDB(ctx).Where("uid = ? AND create_time = ?", uid, createTime).First(&cursor).Error; err != nil {
			return nil, 0, "", ErrPageTokenDecode
		}
		queryBuilder = queryBuilder.Where("version < ?", cursor.Version)
	}

	var models []*datamodel.AuthorizationModel
	if err := queryBuilder.Limit(int(pageSize) + 1).Find(&models).Error; err != nil {
		return nil, 0, "", err
	}

	nextPageToken := ""
	if int64(len(models)) > pageSize {
		models = models[:pageSize]
		last := models[len(models)-1]
		nextPageToken = EncodePageToken(last.CreateTime, last.UID)
	}
	return models, totalSize, nextPageToken, nil
}

// ActivateModel promotes a version to ACTIVE and demotes the previously
// active one in a single transaction, so no query ever observes zero or two
// active versions.
func (r *repository) ActivateModel(ctx context.Context, modelID string, version int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target datamodel.AuthorizationModel
		if err := tx.Clauses(dbresolver.Write).
			Where("model_id = ? AND version = ?", modelID, version).
			First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if target.Status == datamodel.StatusActive {
			return nil // idempotent
		}

		if err := tx.Model(&datamodel.AuthorizationModel{}).
			Where("model_id = ? AND status = ?", modelID, datamodel.StatusActive).
			Update("status", datamodel.StatusSuperseded).Error; err != nil {
			return err
		}
		return tx.Model(&datamodel.AuthorizationModel{}).
			Where("model_id = ? AND version = ?", modelID, version).
			Update("status", datamodel.StatusActive).Error
	})
}

// WriteTuples applies adds and deletes atomically. Keys are processed in a
// stable sorted order so two concurrent writers touching the same tuples
// take their row locks in the same order instead of deadlocking. A
// duplicate add or a missing delete aborts the whole batch.
func (r *repository) WriteTuples(ctx context.Context, adds, deletes []schema.TupleKey) (time.Time, error) {
	sortTupleKeys(adds)
	sortTupleKeys(deletes)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range deletes {
			result := tx.Where(
				"object_type = ? AND object_id = ? AND relation = ? AND user_type = ? AND user_id = ? AND user_relation = ?",
				key.Object.Type, key.Object.ID, key.Relation,
				key.User.Type, key.User.ID, key.User.Relation,
			).Delete(&datamodel.RelationshipTuple{})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrTupleNotFound
			}
		}
		for _, key := range adds {
			if err := tx.Create(datamodel.TupleFromKey(key)).Error; err != nil {
				if isUniqueViolation(err) {
					return ErrAlreadyExists
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	watermark := time.Now()
	r.PinCaller(ctx)
	return watermark, nil
}

func (r *repository) ReadObjectTuples(ctx context.Context, object schema.ObjectRef, relation string) ([]schema.TupleKey, error) {
	var rows []*datamodel.RelationshipTuple
	err := r.readDB(ctx).
		Where("object_type = ? AND object_id = ? AND relation = ?", object.Type, object.ID, relation).
		Order("create_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToKeys(rows), nil
}

func (r *repository) ReadUserTuples(ctx context.Context, user schema.UserRef, objectType string) ([]schema.TupleKey, error) {
	db := r.readDB(ctx).
		Where("user_type = ? AND user_id = ? AND user_relation = ?", user.Type, user.ID, user.Relation)
	if objectType != "" {
		db = db.Where("object_type = ?", objectType)
	}
	var rows []*datamodel.RelationshipTuple
	if err := db.Order("create_time ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToKeys(rows), nil
}

func (r *repository) ReadTuples(ctx context.Context, filter TupleFilter, pageSize int64, pageToken string) ([]schema.TupleKey, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	db := r.readDB(ctx).Model(&datamodel.RelationshipTuple{})
	if filter.ObjectType != "" {
		db = db.Where("object_type = ?", filter.ObjectType)
	}
	if filter.ObjectID != "" {
		db = db.Where("object_id = ?", filter.ObjectID)
	}
	if filter.Relation != "" {
		db = db.Where("relation = ?", filter.Relation)
	}
	if filter.MatchUser {
		db = db.Where("user_type = ? AND user_id = ? AND user_relation = ?",
			filter.User.Type, filter.User.ID, filter.User.Relation)
	}

	if pageToken != "" {
		createTime, uid, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, "", err
		}
		db = db.Where("(create_time, uid) > (?, ?)", createTime, uid)
	}

	var rows []*datamodel.RelationshipTuple
	if err := db.Order("create_time ASC, uid ASC").Limit(int(pageSize) + 1).Find(&rows).Error; err != nil {
		return nil, "", err
	}

	nextPageToken := ""
	if int64(len(rows)) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		nextPageToken = EncodePageToken(last.CreateTime, last.UID)
	}
	return rowsToKeys(rows), nextPageToken, nil
}

func rowsToKeys(rows []*datamodel.RelationshipTuple) []schema.TupleKey {
	keys := make([]schema.TupleKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key())
	}
	return keys
}

func sortTupleKeys(keys []schema.TupleKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
