package handler

import (
	"time"

	"github.com/beegy-labs/authorization-service/pkg/datamodel"
	"github.com/beegy-labs/authorization-service/pkg/dsl"
	"github.com/beegy-labs/authorization-service/pkg/resource"
	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// TuplePayload is the wire form of a relationship tuple. Object is
// "type:id", user is "type:id" or "type:id#relation".
type TuplePayload struct {
	Object   string `json:"object" binding:"required"`
	Relation string `json:"relation" binding:"required"`
	User     string `json:"user" binding:"required"`
}

func (p TuplePayload) toKey() (schema.TupleKey, error) {
	object, err := resource.ParseObject(p.Object)
	if err != nil {
		return schema.TupleKey{}, err
	}
	user, err := resource.ParseUser(p.User)
	if err != nil {
		return schema.TupleKey{}, err
	}
	return schema.TupleKey{Object: object, Relation: p.Relation, User: user}, nil
}

func tupleFromKey(key schema.TupleKey) TuplePayload {
	return TuplePayload{
		Object:   resource.FormatObject(key.Object),
		Relation: key.Relation,
		User:     resource.FormatUser(key.User),
	}
}

type CheckRequest struct {
	ModelID          string `json:"model_id"`
	ModelVersion     int    `json:"model_version"`
	Object           string `json:"object" binding:"required"`
	Relation         string `json:"relation" binding:"required"`
	User             string `json:"user" binding:"required"`
	ConsistencyToken string `json:"consistency_token"`
}

type CheckResponse struct {
	Allowed      bool     `json:"allowed"`
	ModelVersion int      `json:"model_version"`
	Resolution   []string `json:"resolution,omitempty"`
}

type BatchCheckRequest struct {
	ModelID          string         `json:"model_id"`
	Items            []TuplePayload `json:"items" binding:"required"`
	ConsistencyToken string         `json:"consistency_token"`
}

type BatchCheckItemResult struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

type BatchCheckResponse struct {
	Results      []BatchCheckItemResult `json:"results"`
	ModelVersion int                    `json:"model_version"`
}

type WriteTuplesRequest struct {
	ModelID string         `json:"model_id"`
	Adds    []TuplePayload `json:"adds"`
	Deletes []TuplePayload `json:"deletes"`
}

type WriteTuplesResponse struct {
	ConsistencyToken string `json:"consistency_token"`
}

type ListObjectsRequest struct {
	ModelID          string `json:"model_id"`
	ObjectType       string `json:"object_type" binding:"required"`
	Relation         string `json:"relation" binding:"required"`
	User             string `json:"user" binding:"required"`
	PageSize         int64  `json:"page_size"`
	PageToken        string `json:"page_token"`
	ConsistencyToken string `json:"consistency_token"`
}

type ListObjectsResponse struct {
	Objects       []string `json:"objects"`
	NextPageToken string   `json:"next_page_token,omitempty"`
	ModelVersion  int      `json:"model_version"`
}

type ListUsersRequest struct {
	ModelID          string `json:"model_id"`
	Object           string `json:"object" binding:"required"`
	Relation         string `json:"relation" binding:"required"`
	PageSize         int64  `json:"page_size"`
	PageToken        string `json:"page_token"`
	ConsistencyToken string `json:"consistency_token"`
}

type ListUsersResponse struct {
	Users         []string `json:"users"`
	NextPageToken string   `json:"next_page_token,omitempty"`
	ModelVersion  int      `json:"model_version"`
}

type CreateModelRequest struct {
	ModelID   string `json:"model_id"`
	DSLSource string `json:"dsl_source" binding:"required"`
}

type CreateModelResponse struct {
	Model         *ModelPayload      `json:"model,omitempty"`
	CompileErrors []dsl.CompileError `json:"compile_errors,omitempty"`
}

type ModelPayload struct {
	ModelID    string    `json:"model_id"`
	Version    int       `json:"version"`
	Status     string    `json:"status"`
	DSLSource  string    `json:"dsl_source,omitempty"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

func modelPayload(m *datamodel.AuthorizationModel, includeSource bool) *ModelPayload {
	p := &ModelPayload{
		ModelID:    m.ModelID,
		Version:    m.Version,
		Status:     string(m.Status),
		CreateTime: m.CreateTime,
		UpdateTime: m.UpdateTime,
	}
	if includeSource {
		p.DSLSource = m.DSLSource
	}
	return p
}

type ListModelVersionsResponse struct {
	Models        []*ModelPayload `json:"models"`
	TotalSize     int64           `json:"total_size"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}
