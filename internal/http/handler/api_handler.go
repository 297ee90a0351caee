package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/http/middleware"
	httpUtil "github.com/sifan077/shortlink/internal/http/util"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	Auth        middleware.Authenticator
	BaseURL     string
	Now         func() time.Time
}

// APIHandler implements the link management endpoints.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
	auth        middleware.Authenticator
	baseURL     string
	now         func() time.Time
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &APIHandler{
		logger:      logger,
		linkService: deps.LinkService,
		auth:        deps.Auth,
		baseURL:     deps.BaseURL,
		now:         now,
	}
}

// Register wires API routes onto the provided router. Static segments are
// registered before the :id routes.
func (h *APIHandler) Register(router fiber.Router) {
	required := middleware.RequireAuth(h.auth)
	optional := middleware.OptionalAuth(h.auth)

	links := router.Group("/api/v1/links")
	links.Post("/", optional, h.CreateLink)
	links.Get("/", required, h.ListLinks)
	links.Get("/public", h.ListPublicLinks)
	links.Get("/count", required, h.CountActiveLinks)
	links.Get("/expiring", required, h.ListExpiringSoon)
	links.Post("/validate", h.ValidateURL)
	links.Get("/:id", required, h.GetLink)
	links.Patch("/:id", required, h.UpdateLink)
	links.Delete("/:id", required, h.DeleteLink)
	links.Post("/:id/toggle", required, h.ToggleActive)
	links.Post("/:id/extend", required, h.ExtendExpiration)
	links.Put("/:id/active", required, h.SetActive)
	links.Put("/:id/visibility", required, h.SetVisibility)
}

// ValidateURL handles POST /api/v1/links/validate. It answers 200 for any
// well-formed request and reports the verdict in the body.
func (h *APIHandler) ValidateURL(c *fiber.Ctx) error {
	var req validateURLRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	check := service.CheckURL(req.URL)
	return c.JSON(ValidateURLResponse{
		Valid:    check.Valid,
		URL:      check.Normalized,
		Errors:   check.Errors,
		Warnings: check.Warnings,
	})
}

// parseBody decodes and validates the JSON body into dst. It writes the 400
// itself and reports false when the body is unusable.
func parseBody(c *fiber.Ctx, dst interface{}) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, badRequest(c, "invalid request body")
	}
	if msg, err := httpUtil.ValidateStruct(dst); err != nil {
		return false, badRequest(c, msg)
	}
	return true, nil
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// CreateLink handles POST /api/v1/links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	link, err := h.linkService.CreateLink(c.UserContext(), req.toInput(middleware.OwnerID(c)))
	if err != nil {
		return writeError(c, h.logger, err)
	}

	h.logger.Debug("link created", zap.String("code", link.Code), zap.String("id", link.ID))
	return c.Status(fiber.StatusCreated).JSON(newLinkResponse(link, h.baseURL, h.now()))
}

// ListLinks handles GET /api/v1/links
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	links, err := h.linkService.ListLinks(c.UserContext(), middleware.OwnerID(c), limit, offset)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return h.listResponse(c, links, limit, offset)
}

// ListPublicLinks handles GET /api/v1/links/public
func (h *APIHandler) ListPublicLinks(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	links, err := h.linkService.ListPublicLinks(c.UserContext(), limit, offset)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return h.listResponse(c, links, limit, offset)
}

// ListExpiringSoon handles GET /api/v1/links/expiring?hours=
func (h *APIHandler) ListExpiringSoon(c *fiber.Ctx) error {
	hours := c.QueryInt("hours", 24)
	if hours <= 0 {
		return badRequest(c, "hours must be positive")
	}
	links, err := h.linkService.ListExpiringSoon(c.UserContext(), middleware.OwnerID(c), time.Duration(hours)*time.Hour)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"links": newLinkResponses(links, h.baseURL, h.now()),
		"hours": hours,
		"count": len(links),
	})
}

// CountActiveLinks handles GET /api/v1/links/count
func (h *APIHandler) CountActiveLinks(c *fiber.Ctx) error {
	n, err := h.linkService.CountActiveLinks(c.UserContext(), middleware.OwnerID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"active": n})
}

// GetLink handles GET /api/v1/links/:id
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	link, err := h.linkService.GetLink(c.UserContext(), middleware.OwnerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(newLinkResponse(link, h.baseURL, h.now()))
}

// UpdateLink handles PATCH /api/v1/links/:id
func (h *APIHandler) UpdateLink(c *fiber.Ctx) error {
	var req UpdateLinkRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}
	link, err := h.linkService.UpdateLink(c.UserContext(), middleware.OwnerID(c), c.Params("id"), req.toInput())
	return h.linkResult(c, link, err)
}

// DeleteLink handles DELETE /api/v1/links/:id
func (h *APIHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.linkService.DeleteLink(c.UserContext(), middleware.OwnerID(c), c.Params("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleActive handles POST /api/v1/links/:id/toggle
func (h *APIHandler) ToggleActive(c *fiber.Ctx) error {
	link, err := h.linkService.ToggleActive(c.UserContext(), middleware.OwnerID(c), c.Params("id"))
	return h.linkResult(c, link, err)
}

// ExtendExpiration handles POST /api/v1/links/:id/extend
func (h *APIHandler) ExtendExpiration(c *fiber.Ctx) error {
	var req extendRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}
	link, err := h.linkService.ExtendExpiration(c.UserContext(), middleware.OwnerID(c), c.Params("id"), *req.ExpiresAt)
	return h.linkResult(c, link, err)
}

// SetActive handles PUT /api/v1/links/:id/active
func (h *APIHandler) SetActive(c *fiber.Ctx) error {
	var req activeRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}
	link, err := h.linkService.SetActive(c.UserContext(), middleware.OwnerID(c), c.Params("id"), *req.Active)
	return h.linkResult(c, link, err)
}

// SetVisibility handles PUT /api/v1/links/:id/visibility
func (h *APIHandler) SetVisibility(c *fiber.Ctx) error {
	var req visibilityRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}
	v, _ := model.ParseVisibility(req.Visibility)
	link, err := h.linkService.SetVisibility(c.UserContext(), middleware.OwnerID(c), c.Params("id"), v)
	return h.linkResult(c, link, err)
}

func (h *APIHandler) linkResult(c *fiber.Ctx, link *model.Link, err error) error {
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(newLinkResponse(link, h.baseURL, h.now()))
}

func (h *APIHandler) listResponse(c *fiber.Ctx, links []model.Link, limit, offset int) error {
	return c.JSON(fiber.Map{
		"links":  newLinkResponses(links, h.baseURL, h.now()),
		"limit":  limit,
		"offset": offset,
		"count":  len(links),
	})
}
