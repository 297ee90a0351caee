package handler

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/service"
	httpUtil "github.com/sifan077/shortlink/internal/http/util"
	"github.com/sifan077/shortlink/internal/http/view"
	"go.uber.org/zap"
)

const (
	passwordHeader = "X-Link-Password"
	publishTimeout = 2 * time.Second
)

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger         *zap.Logger
	Resolver       *service.Resolver
	Links          service.LinkService
	Tokens         *httpUtil.TokenSigner
	ClickPublisher *service.ClickPublisher
	BaseURL        string
	// RateLimit, when set, guards the redirect and password routes.
	RateLimit fiber.Handler
}

// RedirectHandler serves short code redirects and the public link endpoints.
type RedirectHandler struct {
	logger         *zap.Logger
	resolver       *service.Resolver
	links          service.LinkService
	tokens         *httpUtil.TokenSigner
	clickPublisher *service.ClickPublisher
	baseURL        string
	rateLimit      fiber.Handler
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := deps.RateLimit
	if rl == nil {
		rl = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &RedirectHandler{
		logger:         logger,
		resolver:       deps.Resolver,
		links:          deps.Links,
		tokens:         deps.Tokens,
		clickPublisher: deps.ClickPublisher,
		baseURL:        deps.BaseURL,
		rateLimit:      rl,
	}
}

// Register wires the public routes. The catch-all /:code routes must be
// registered last.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/api/v1/info/:code", h.Info)
	router.Post("/api/v1/verify-password/:code", h.rateLimit, h.VerifyPassword)
	router.Get("/:code", h.rateLimit, h.Resolve)
	router.Post("/:code", h.rateLimit, h.Resolve)
}

// Resolve handles GET /:code and the password form posted back to it.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := c.Params("code")

	cred := service.Credential{
		Password: c.Query("password"),
		Token:    c.Query("token"),
	}
	if p := c.Get(passwordHeader); p != "" {
		cred.Password = p
	}
	if c.Method() == fiber.MethodPost {
		cred.Password = c.FormValue("password")
	}

	res, err := h.resolver.Resolve(c.UserContext(), code, cred)
	if err != nil {
		if wantsHTML(c) && (errors.Is(err, service.ErrPasswordRequired) || errors.Is(err, service.ErrInvalidPassword)) {
			return h.renderPasswordPage(c, code, err)
		}
		return writeError(c, h.logger, err)
	}

	h.publishClick(c, res)

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect(res.Destination, fiber.StatusFound)
}

// Info handles GET /api/v1/info/:code
func (h *RedirectHandler) Info(c *fiber.Ctx) error {
	info, err := h.links.GetInfo(c.UserContext(), c.Params("code"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(InfoResponse{
		Code:              info.Code,
		ShortURL:          shortURL(h.baseURL, info.Code),
		URL:               info.Destination,
		Description:       info.Description,
		Active:            info.Active,
		Status:            info.Status.String(),
		ExpiresAt:         info.ExpiresAt,
		ClickCount:        info.ClickCount,
		ClickLimit:        info.ClickLimit,
		RemainingClicks:   info.RemainingClicks,
		PasswordProtected: info.PasswordProtected,
		CreatedAt:         info.CreatedAt,
		RecordedClicks:    info.RecordedClicks,
	})
}

// VerifyPassword handles POST /api/v1/verify-password/:code. On success it
// returns an access token and the redirect URL that carries it.
func (h *RedirectHandler) VerifyPassword(c *fiber.Ctx) error {
	var req verifyPasswordRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	link, err := h.links.VerifyPassword(c.UserContext(), c.Params("code"), req.Password)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	token, err := h.tokens.Issue(link.Code, link.PasswordHash)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(fiber.Map{
		"token":        token,
		"expires_in":   int(h.tokens.TTL().Seconds()),
		"redirect_url": shortURL(h.baseURL, link.Code) + "?token=" + url.QueryEscape(token),
	})
}

func (h *RedirectHandler) renderPasswordPage(c *fiber.Ctx, code string, cause error) error {
	data := view.PasswordPageData{Code: code}
	if errors.Is(cause, service.ErrInvalidPassword) {
		data.Error = "Incorrect password, please try again."
	}
	if info, err := h.links.GetInfo(c.UserContext(), code); err == nil {
		data.Description = info.Description
	}

	html, err := view.RenderPasswordPage(data)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusUnauthorized).
		Type("html", "utf-8").
		SendString(html)
}

// publishClick hands the event to the publisher off the request path. The
// request context is gone once the handler returns, so the metadata is
// copied first.
func (h *RedirectHandler) publishClick(c *fiber.Ctx, res *service.Resolution) {
	if h.clickPublisher == nil {
		return
	}
	meta := service.ClickMeta{
		IP:        c.IP(),
		UserAgent: strings.Clone(c.Get(fiber.HeaderUserAgent)),
		Referer:   strings.Clone(c.Get(fiber.HeaderReferer)),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.clickPublisher.Publish(ctx, res, meta); err != nil {
			h.logger.Debug("click event dropped", zap.String("code", res.Code), zap.Error(err))
		}
	}()
}

func wantsHTML(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMETextHTML)
}
