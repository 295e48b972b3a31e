// Package handler exposes the authorization service over HTTP JSON. It
// translates wire payloads to internal types and status codes to HTTP at
// the boundary; engine and storage types never leak past it.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/beegy-labs/authorization-service/pkg/engine"
	"github.com/beegy-labs/authorization-service/pkg/repository"
	"github.com/beegy-labs/authorization-service/pkg/resource"
	"github.com/beegy-labs/authorization-service/pkg/schema"
	"github.com/beegy-labs/authorization-service/pkg/service"
)

// DefaultModelID is used when a request omits model_id.
const DefaultModelID = "default"

// PublicHandler carries the HTTP facade state.
type PublicHandler struct {
	service        service.Service
	defaultModelID string
	ping           func(ctx context.Context) error
}

// NewPublicHandler returns a handler bound to the given service. ping is
// optional; when set it backs the readiness endpoint.
func NewPublicHandler(s service.Service, defaultModelID string, ping func(ctx context.Context) error) *PublicHandler {
	if defaultModelID == "" {
		defaultModelID = DefaultModelID
	}
	return &PublicHandler{service: s, defaultModelID: defaultModelID, ping: ping}
}

// AddRoutes registers all public routes on the router.
func (h *PublicHandler) AddRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/check", h.Check)
	v1.POST("/batch-check", h.BatchCheck)
	v1.POST("/tuples/write", h.WriteTuples)
	v1.GET("/tuples", h.ReadTuples)
	v1.POST("/list-objects", h.ListObjects)
	v1.POST("/list-users", h.ListUsers)
	v1.POST("/models", h.CreateModel)
	v1.GET("/models/:modelID", h.GetModel)
	v1.GET("/models/:modelID/versions", h.ListModelVersions)
	v1.POST("/models/:modelID/versions/:version/activate", h.ActivateModel)
}

func (h *PublicHandler) modelID(requested string) string {
	if requested == "" {
		return h.defaultModelID
	}
	return requested
}

func (h *PublicHandler) Healthz(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *PublicHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	key, err := (TuplePayload{Object: req.Object, Relation: req.Relation, User: req.User}).toKey()
	if err != nil {
		errorResponse(c, err)
		return
	}

	decision, version, err := h.service.Check(c.Request.Context(), h.modelID(req.ModelID), req.ModelVersion, key.Object, key.Relation, key.User, req.ConsistencyToken)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, CheckResponse{
		Allowed:      decision.Allowed,
		ModelVersion: version,
		Resolution:   decision.Resolution,
	})
}

func (h *PublicHandler) BatchCheck(c *gin.Context) {
	var req BatchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	items := make([]engine.CheckItem, 0, len(req.Items))
	for _, p := range req.Items {
		key, err := p.toKey()
		if err != nil {
			errorResponse(c, err)
			return
		}
		items = append(items, engine.CheckItem{Object: key.Object, Relation: key.Relation, User: key.User})
	}

	results, version, err := h.service.BatchCheck(c.Request.Context(), h.modelID(req.ModelID), items, req.ConsistencyToken)
	if err != nil {
		errorResponse(c, err)
		return
	}

	resp := BatchCheckResponse{
		Results:      make([]BatchCheckItemResult, len(results)),
		ModelVersion: version,
	}
	for i, r := range results {
		resp.Results[i].Allowed = r.Allowed
		if r.Err != nil {
			resp.Results[i].Error = r.Err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PublicHandler) WriteTuples(c *gin.Context) {
	var req WriteTuplesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	adds, err := payloadsToKeys(req.Adds)
	if err != nil {
		errorResponse(c, err)
		return
	}
	deletes, err := payloadsToKeys(req.Deletes)
	if err != nil {
		errorResponse(c, err)
		return
	}

	token, err := h.service.WriteTuples(c.Request.Context(), h.modelID(req.ModelID), adds, deletes)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, WriteTuplesResponse{ConsistencyToken: token})
}

func (h *PublicHandler) ReadTuples(c *gin.Context) {
	filter := repository.TupleFilter{
		ObjectType: c.Query("object_type"),
		ObjectID:   c.Query("object_id"),
		Relation:   c.Query("relation"),
	}
	if userStr := c.Query("user"); userStr != "" {
		user, err := resource.ParseUser(userStr)
		if err != nil {
			errorResponse(c, err)
			return
		}
		filter.User = user
		filter.MatchUser = true
	}

	pageSize := queryInt64(c, "page_size")
	keys, nextPageToken, err := h.service.ReadTuples(c.Request.Context(), filter, pageSize, c.Query("page_token"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	tuples := make([]TuplePayload, len(keys))
	for i, k := range keys {
		tuples[i] = tupleFromKey(k)
	}
	c.JSON(http.StatusOK, gin.H{"tuples": tuples, "next_page_token": nextPageToken})
}

func (h *PublicHandler) ListObjects(c *gin.Context) {
	var req ListObjectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	user, err := resource.ParseUser(req.User)
	if err != nil {
		errorResponse(c, err)
		return
	}

	objects, nextPageToken, version, err := h.service.ListObjects(c.Request.Context(), h.modelID(req.ModelID), req.ObjectType, req.Relation, user, req.PageSize, req.PageToken, req.ConsistencyToken)
	if err != nil {
		errorResponse(c, err)
		return
	}

	ids := make([]string, len(objects))
	for i, id := range objects {
		ids[i] = req.ObjectType + ":" + id
	}
	c.JSON(http.StatusOK, ListObjectsResponse{
		Objects:       ids,
		NextPageToken: nextPageToken,
		ModelVersion:  version,
	})
}

func (h *PublicHandler) ListUsers(c *gin.Context) {
	var req ListUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	object, err := resource.ParseObject(req.Object)
	if err != nil {
		errorResponse(c, err)
		return
	}

	users, nextPageToken, version, err := h.service.ListUsers(c.Request.Context(), h.modelID(req.ModelID), object, req.Relation, req.PageSize, req.PageToken, req.ConsistencyToken)
	if err != nil {
		errorResponse(c, err)
		return
	}

	strs := make([]string, len(users))
	for i, u := range users {
		strs[i] = u.String()
	}
	c.JSON(http.StatusOK, ListUsersResponse{
		Users:         strs,
		NextPageToken: nextPageToken,
		ModelVersion:  version,
	})
}

func (h *PublicHandler) CreateModel(c *gin.Context) {
	var req CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	model, compileErrs, err := h.service.CreateModel(c.Request.Context(), h.modelID(req.ModelID), req.DSLSource)
	if len(compileErrs) > 0 {
		// Compile diagnostics are payload, not transport failure.
		c.JSON(http.StatusOK, CreateModelResponse{CompileErrors: compileErrs})
		return
	}
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateModelResponse{Model: modelPayload(model, true)})
}

func (h *PublicHandler) GetModel(c *gin.Context) {
	version := 0
	if v := c.Query("version"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			bindErrorResponse(c, errors.New("version must be an integer"))
			return
		}
		version = parsed
	}

	model, err := h.service.GetModel(c.Request.Context(), c.Param("modelID"), version)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, modelPayload(model, true))
}

func (h *PublicHandler) ListModelVersions(c *gin.Context) {
	pageSize := queryInt64(c, "page_size")
	models, total, nextPageToken, err := h.service.ListModelVersions(c.Request.Context(), c.Param("modelID"), pageSize, c.Query("page_token"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	payloads := make([]*ModelPayload, len(models))
	for i, m := range models {
		payloads[i] = modelPayload(m, false)
	}
	c.JSON(http.StatusOK, ListModelVersionsResponse{
		Models:        payloads,
		TotalSize:     total,
		NextPageToken: nextPageToken,
	})
}

func (h *PublicHandler) ActivateModel(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		bindErrorResponse(c, errors.New("version must be an integer"))
		return
	}

	model, svcErr := h.service.ActivateModel(c.Request.Context(), c.Param("modelID"), version)
	if svcErr != nil {
		errorResponse(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, modelPayload(model, false))
}

func payloadsToKeys(payloads []TuplePayload) ([]schema.TupleKey, error) {
	keys := make([]schema.TupleKey, 0, len(payloads))
	for _, p := range payloads {
		key, err := p.toKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func queryInt64(c *gin.Context, name string) int64 {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
