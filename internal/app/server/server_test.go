package server

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/repository"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/auth"
	"github.com/sifan077/shortlink/internal/http/middleware"
	httpUtil "github.com/sifan077/shortlink/internal/http/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) (*Server, *auth.TokenAuthenticator) {
	t.Helper()
	repo := repository.NewMemoryLinkRepository()
	opts := service.Options{Policy: service.DefaultCodePolicy(), Hasher: service.NewBcryptHasher(bcrypt.MinCost)}
	links := service.NewLinkService(repo, opts)
	authn := auth.NewTokenAuthenticator("server-test-secret")

	return New(Dependencies{
		Server:    config.ServerConfig{BaseURL: "http://localhost:8080"},
		Links:     links,
		Resolver:  service.NewResolver(repo, opts),
		Bulk:      service.NewBulkService(links, 5, nil),
		Tokens:    httpUtil.NewTokenSigner([]byte("s"), time.Minute),
		Auth:      authn,
		RateLimit: middleware.DefaultRateLimitConfig(),
	}), authn
}

func TestRoutes(t *testing.T) {
	srv, authn := newTestServer(t)
	token, err := authn.Issue("alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		auth   bool
		status int
	}{
		{"liveness is not a short code", fiber.MethodGet, "/health", "", false, fiber.StatusOK},
		{"readiness without checks", fiber.MethodGet, "/health/ready", "", false, fiber.StatusOK},
		{"bulk visibility is not an id", fiber.MethodPut, "/api/v1/links/bulk/visibility", `{"ids":["x"],"visibility":"PRIVATE"}`, true, fiber.StatusOK},
		{"bulk requires auth", fiber.MethodPost, "/api/v1/links/bulk/delete", `{"ids":["x"]}`, false, fiber.StatusUnauthorized},
		{"unknown code", fiber.MethodGet, "/abc1234", "", false, fiber.StatusNotFound},
		{"unknown route", fiber.MethodGet, "/a/b/c", "", false, fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			if tt.body != "" {
				req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			}
			if tt.auth {
				req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
			}
			resp, err := srv.App().Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
		})
	}
}
