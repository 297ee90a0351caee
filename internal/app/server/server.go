package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/service"
	inthttp "github.com/sifan077/shortlink/internal/http/handler"
	"github.com/sifan077/shortlink/internal/http/middleware"
	httpUtil "github.com/sifan077/shortlink/internal/http/util"
	"go.uber.org/zap"
)

// Dependencies bundles everything the HTTP server routes to.
type Dependencies struct {
	Logger         *zap.Logger
	Server         config.ServerConfig
	Links          service.LinkService
	Resolver       *service.Resolver
	Bulk           *service.BulkService
	Tokens         *httpUtil.TokenSigner
	Auth           middleware.Authenticator
	ClickPublisher *service.ClickPublisher
	// RateLimiter is nil when redirect rate limiting is disabled.
	RateLimiter middleware.Counter
	RateLimit   middleware.RateLimitConfig
	Checks      map[string]inthttp.Check
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with every route registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "shortlink",
		ReadTimeout:           deps.Server.ReadTimeout,
		WriteTimeout:          deps.Server.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger.Named("http")))
	s.app.Use(middleware.CORS())
}

// registerRoutes orders routes from most to least specific: the bulk routes
// shadow /api/v1/links/:id and the redirect catch-all goes last.
func (s *Server) registerRoutes() {
	inthttp.NewHealthHandler(s.deps.Logger, s.deps.Checks).Register(s.app)

	inthttp.NewBulkHandler(inthttp.BulkDeps{
		Logger:  s.deps.Logger,
		Bulk:    s.deps.Bulk,
		Auth:    s.deps.Auth,
		BaseURL: s.deps.Server.BaseURL,
	}).Register(s.app)

	inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:      s.deps.Logger,
		LinkService: s.deps.Links,
		Auth:        s.deps.Auth,
		BaseURL:     s.deps.Server.BaseURL,
	}).Register(s.app)

	var rateLimit fiber.Handler
	if s.deps.RateLimiter != nil {
		rateLimit = middleware.RateLimit(s.deps.RateLimiter, s.deps.RateLimit, s.deps.Logger)
	}
	inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:         s.deps.Logger,
		Resolver:       s.deps.Resolver,
		Links:          s.deps.Links,
		Tokens:         s.deps.Tokens,
		ClickPublisher: s.deps.ClickPublisher,
		BaseURL:        s.deps.Server.BaseURL,
		RateLimit:      rateLimit,
	}).Register(s.app)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	msg := "internal server error"
	if code != fiber.StatusInternalServerError {
		msg = err.Error()
	}
	return c.Status(code).JSON(fiber.Map{
		"error":      msg,
		"request_id": middleware.GetRequestID(c),
	})
}
