package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/beegy-labs/authorization-service/pkg/datamodel"
	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// memoryRepository is an in-memory Repository with the same indexing
// guarantees as the postgres implementation: tuples are reachable both by
// object and by user. It backs the engine and service tests and the
// embedded single-process mode.
type memoryRepository struct {
	mu sync.RWMutex

	models map[string][]*datamodel.AuthorizationModel // modelID -> versions ascending

	tuples   map[string]*datamodel.RelationshipTuple // tuple key -> row
	byObject map[string]map[string]struct{}          // objectType:objectID#relation -> tuple keys
	byUser   map[string]map[string]struct{}          // user ref string -> tuple keys

	clock int64 // logical clock for create times
}

// NewMemoryRepository initiates an in-memory repository instance.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		models:   map[string][]*datamodel.AuthorizationModel{},
		tuples:   map[string]*datamodel.RelationshipTuple{},
		byObject: map[string]map[string]struct{}{},
		byUser:   map[string]map[string]struct{}{},
	}
}

func (r *memoryRepository) nextTime() time.Time {
	r.clock++
	return time.Unix(0, r.clock)
}

func objectIndexKey(object schema.ObjectRef, relation string) string {
	return object.String() + "#" + relation
}

func (r *memoryRepository) PinCaller(ctx context.Context) {}

func (r *memoryRepository) CreateModel(ctx context.Context, model *datamodel.AuthorizationModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.models[model.ModelID] {
		if existing.Version == model.Version {
			return ErrModelVersionExists
		}
	}
	recordUUID, err := uuid.NewV4()
	if err != nil {
		return err
	}
	stored := *model
	stored.UID = recordUUID
	stored.CreateTime = r.nextTime()
	stored.UpdateTime = stored.CreateTime
	r.models[model.ModelID] = append(r.models[model.ModelID], &stored)
	sort.Slice(r.models[model.ModelID], func(i, j int) bool {
		return r.models[model.ModelID][i].Version < r.models[model.ModelID][j].Version
	})
	*model = stored
	return nil
}

func (r *memoryRepository) GetModel(ctx context.Context, modelID string, version int) (*datamodel.AuthorizationModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, model := range r.models[modelID] {
		if model.Version == version {
			out := *model
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepository) GetActiveModel(ctx context.Context, modelID string) (*datamodel.AuthorizationModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, model := range r.models[modelID] {
		if model.Status == datamodel.StatusActive {
			out := *model
			return &out, nil
		}
	}
	return nil, ErrNoActiveModel
}

func (r *memoryRepository) LatestModelVersion(ctx context.Context, modelID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.models[modelID]
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Version, nil
}

func (r *memoryRepository) ListModelVersions(ctx context.Context, modelID string, pageSize int64, pageToken string) ([]*datamodel.AuthorizationModel, int64, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.models[modelID]
	totalSize := int64(len(versions))

	// Descending by version, same order as the postgres implementation.
	ordered := make([]*datamodel.AuthorizationModel, len(versions))
	for i, m := range versions {
		ordered[len(versions)-1-i] = m
	}

	start := 0
	if pageToken != "" {
		_, uid, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, 0, "", err
		}
		found := false
		for i, m := range ordered {
			if m.UID == uid {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, 0, "", ErrPageTokenDecode
		}
	}

	end := start + int(pageSize)
	nextPageToken := ""
	if end < len(ordered) {
		last := ordered[end-1]
		nextPageToken = EncodePageToken(last.CreateTime, last.UID)
	} else {
		end = len(ordered)
	}

	out := make([]*datamodel.AuthorizationModel, 0, end-start)
	for _, m := range ordered[start:end] {
		copied := *m
		out = append(out, &copied)
	}
	return out, totalSize, nextPageToken, nil
}

func (r *memoryRepository) ActivateModel(ctx context.Context, modelID string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *datamodel.AuthorizationModel
	for _, model := range r.models[modelID] {
		if model.Version == version {
			target = model
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	if target.Status == datamodel.StatusActive {
		return nil
	}
	for _, model := range r.models[modelID] {
		if model.Status == datamodel.StatusActive {
			model.Status = datamodel.StatusSuperseded
			model.UpdateTime = r.nextTime()
		}
	}
	target.Status = datamodel.StatusActive
	target.UpdateTime = r.nextTime()
	return nil
}

func (r *memoryRepository) WriteTuples(ctx context.Context, adds, deletes []schema.TupleKey) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole batch before mutating anything: all-or-nothing.
	for _, key := range deletes {
		if _, ok := r.tuples[key.String()]; !ok {
			return time.Time{}, ErrTupleNotFound
		}
	}
	for _, key := range adds {
		if _, ok := r.tuples[key.String()]; ok {
			return time.Time{}, ErrAlreadyExists
		}
	}

	for _, key := range deletes {
		ks := key.String()
		delete(r.tuples, ks)
		delete(r.byObject[objectIndexKey(key.Object, key.Relation)], ks)
		delete(r.byUser[key.User.String()], ks)
	}
	for _, key := range adds {
		recordUUID, err := uuid.NewV4()
		if err != nil {
			return time.Time{}, err
		}
		row := datamodel.TupleFromKey(key)
		row.UID = recordUUID
		row.CreateTime = r.nextTime()

		ks := key.String()
		r.tuples[ks] = row

		objKey := objectIndexKey(key.Object, key.Relation)
		if r.byObject[objKey] == nil {
			r.byObject[objKey] = map[string]struct{}{}
		}
		r.byObject[objKey][ks] = struct{}{}

		userKey := key.User.String()
		if r.byUser[userKey] == nil {
			r.byUser[userKey] = map[string]struct{}{}
		}
		r.byUser[userKey][ks] = struct{}{}
	}
	return time.Now(), nil
}

func (r *memoryRepository) ReadObjectTuples(ctx context.Context, object schema.ObjectRef, relation string) ([]schema.TupleKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(r.byObject[objectIndexKey(object, relation)], ""), nil
}

func (r *memoryRepository) ReadUserTuples(ctx context.Context, user schema.UserRef, objectType string) ([]schema.TupleKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(r.byUser[user.String()], objectType), nil
}

// collect materializes index entries in insertion order, optionally
// filtered by object type.
func (r *memoryRepository) collect(keys map[string]struct{}, objectType string) []schema.TupleKey {
	rows := make([]*datamodel.RelationshipTuple, 0, len(keys))
	for ks := range keys {
		row := r.tuples[ks]
		if objectType != "" && row.ObjectType != objectType {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreateTime.Before(rows[j].CreateTime)
	})
	return rowsToKeys(rows)
}

func (r *memoryRepository) ReadTuples(ctx context.Context, filter TupleFilter, pageSize int64, pageToken string) ([]schema.TupleKey, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]*datamodel.RelationshipTuple, 0, len(r.tuples))
	for _, row := range r.tuples {
		if filter.ObjectType != "" && row.ObjectType != filter.ObjectType {
			continue
		}
		if filter.ObjectID != "" && row.ObjectID != filter.ObjectID {
			continue
		}
		if filter.Relation != "" && row.Relation != filter.Relation {
			continue
		}
		if filter.MatchUser && (row.UserType != filter.User.Type ||
			row.UserID != filter.User.ID || row.UserRelation != filter.User.Relation) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreateTime.Equal(rows[j].CreateTime) {
			return rows[i].CreateTime.Before(rows[j].CreateTime)
		}
		return strings.Compare(rows[i].UID.String(), rows[j].UID.String()) < 0
	})

	start := 0
	if pageToken != "" {
		_, uid, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, "", err
		}
		for i, row := range rows {
			if row.UID == uid {
				start = i + 1
				break
			}
		}
	}

	end := start + int(pageSize)
	nextPageToken := ""
	if end < len(rows) {
		last := rows[end-1]
		nextPageToken = EncodePageToken(last.CreateTime, last.UID)
	} else {
		end = len(rows)
	}
	return rowsToKeys(rows[start:end]), nextPageToken, nil
}
