package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/http/middleware"
	"go.uber.org/zap"
)

// errorResponse is the JSON body of every failed API call.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
	reason string
	// detailed responses carry the wrapped message, which names the offending field
	detailed bool
}

var errorMappings = []errorMapping{
	{target: service.ErrInvalidAlias, status: fiber.StatusBadRequest, code: "INVALID_ALIAS", detailed: true},
	{target: service.ErrInvalidInput, status: fiber.StatusBadRequest, code: "INVALID_INPUT", detailed: true},
	{target: service.ErrAliasConflict, status: fiber.StatusConflict, code: "ALIAS_CONFLICT"},
	{target: service.ErrNotFound, status: fiber.StatusNotFound, code: "NOT_FOUND"},
	{target: service.ErrExpired, status: fiber.StatusGone, code: "GONE", reason: model.AccessExpired.String()},
	{target: service.ErrClickLimitReached, status: fiber.StatusGone, code: "GONE", reason: model.AccessClickLimitReached.String()},
	{target: service.ErrInactive, status: fiber.StatusGone, code: "GONE", reason: model.AccessInactive.String()},
	{target: service.ErrPasswordRequired, status: fiber.StatusUnauthorized, code: "PASSWORD_REQUIRED"},
	{target: service.ErrInvalidPassword, status: fiber.StatusUnauthorized, code: "INVALID_PASSWORD"},
	{target: service.ErrPermissionDenied, status: fiber.StatusForbidden, code: "FORBIDDEN"},
	{target: service.ErrAllocationExhausted, status: fiber.StatusServiceUnavailable, code: "ALLOCATION_EXHAUSTED"},
	{target: service.ErrUnavailable, status: fiber.StatusServiceUnavailable, code: "UNAVAILABLE"},
}

// writeError maps a service error onto its HTTP status and JSON body.
// Unknown errors become a 500 and are logged.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	resp := errorResponse{RequestID: middleware.GetRequestID(c)}
	status := fiber.StatusInternalServerError

	matched := false
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		matched = true
		status = m.status
		resp.Code = m.code
		resp.Reason = m.reason
		resp.Error = m.target.Error()
		if m.detailed {
			resp.Error = err.Error()
		}
		break
	}

	switch {
	case !matched && errors.Is(err, context.Canceled):
		// client went away; the status is never seen
		status = fiber.StatusRequestTimeout
		resp.Code = "CANCELED"
		resp.Error = "request canceled"
	case !matched:
		resp.Code = "INTERNAL"
		resp.Error = "internal server error"
		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
	case service.IsTransient(err):
		c.Set(fiber.HeaderRetryAfter, "1")
		logger.Warn("transient failure", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
		Error:     msg,
		Code:      "INVALID_INPUT",
		RequestID: middleware.GetRequestID(c),
	})
}
