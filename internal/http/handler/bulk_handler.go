package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/http/middleware"
	"go.uber.org/zap"
)

// BulkDeps groups dependencies required by bulk handlers.
type BulkDeps struct {
	Logger  *zap.Logger
	Bulk    *service.BulkService
	Auth    middleware.Authenticator
	BaseURL string
}

// BulkHandler exposes batch operations. Item failures are reported in the
// body of a 200; only a rejected batch fails the request.
type BulkHandler struct {
	logger  *zap.Logger
	bulk    *service.BulkService
	auth    middleware.Authenticator
	baseURL string
}

func NewBulkHandler(deps BulkDeps) *BulkHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkHandler{logger: logger, bulk: deps.Bulk, auth: deps.Auth, baseURL: deps.BaseURL}
}

// Register must run before the link routes so /bulk/visibility is not taken
// for an id.
func (h *BulkHandler) Register(router fiber.Router) {
	bulk := router.Group("/api/v1/links/bulk", middleware.RequireAuth(h.auth))
	bulk.Post("/", h.Create)
	bulk.Post("/delete", h.Delete)
	bulk.Put("/visibility", h.SetVisibility)
	bulk.Put("/status", h.SetActive)
}

type bulkCreateRequest struct {
	Links []CreateLinkRequest `json:"links" validate:"required,min=1"`
}

type bulkIDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

type bulkVisibilityRequest struct {
	IDs        []string `json:"ids" validate:"required,min=1"`
	Visibility string   `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE UNLISTED public private unlisted"`
}

type bulkActiveRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1"`
	Active *bool    `json:"active" validate:"required"`
}

type bulkItem[T any] struct {
	Index int `json:"index"`
	Value T   `json:"value"`
}

type bulkFailure struct {
	Index  int    `json:"index"`
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

type bulkResponse[T any] struct {
	Total     int           `json:"total_processed"`
	Succeeded int           `json:"success_count"`
	Failed    int           `json:"failure_count"`
	Successes []bulkItem[T] `json:"successes"`
	Failures  []bulkFailure `json:"failures"`
}

func newBulkResponse[S, T any](res *service.BulkResult[S], convert func(S) T) bulkResponse[T] {
	out := bulkResponse[T]{
		Total:     res.TotalProcessed,
		Succeeded: res.SuccessCount,
		Failed:    res.FailureCount,
		Successes: make([]bulkItem[T], 0, len(res.Successes)),
		Failures:  make([]bulkFailure, 0, len(res.Failures)),
	}
	for _, s := range res.Successes {
		out.Successes = append(out.Successes, bulkItem[T]{Index: s.Index, Value: convert(s.Value)})
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, bulkFailure{Index: f.Index, Input: f.Input, Reason: f.Reason})
	}
	return out
}

func (h *BulkHandler) linkConverter() func(*model.Link) LinkResponse {
	now := time.Now()
	return func(l *model.Link) LinkResponse { return newLinkResponse(l, h.baseURL, now) }
}

// Create handles POST /api/v1/links/bulk
func (h *BulkHandler) Create(c *fiber.Ctx) error {
	var req bulkCreateRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	owner := middleware.OwnerID(c)
	inputs := make([]service.CreateLinkInput, len(req.Links))
	for i, item := range req.Links {
		inputs[i] = item.toInput(owner)
	}

	res, err := h.bulk.BulkCreate(c.UserContext(), owner, inputs)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(newBulkResponse(res, h.linkConverter()))
}

// Delete handles POST /api/v1/links/bulk/delete
func (h *BulkHandler) Delete(c *fiber.Ctx) error {
	var req bulkIDsRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.bulk.BulkDelete(c.UserContext(), middleware.OwnerID(c), req.IDs)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(newBulkResponse(res, func(id string) string { return id }))
}

// SetVisibility handles PUT /api/v1/links/bulk/visibility
func (h *BulkHandler) SetVisibility(c *fiber.Ctx) error {
	var req bulkVisibilityRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	v, _ := model.ParseVisibility(req.Visibility)
	res, err := h.bulk.BulkSetVisibility(c.UserContext(), middleware.OwnerID(c), req.IDs, v)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(newBulkResponse(res, h.linkConverter()))
}

// SetActive handles PUT /api/v1/links/bulk/status
func (h *BulkHandler) SetActive(c *fiber.Ctx) error {
	var req bulkActiveRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.bulk.BulkSetActive(c.UserContext(), middleware.OwnerID(c), req.IDs, *req.Active)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(newBulkResponse(res, h.linkConverter()))
}
