package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/auth"
	"github.com/sifan077/shortlink/internal/http/middleware"
	httpUtil "github.com/sifan077/shortlink/internal/http/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testBaseURL = "https://sho.rt"

type testEnv struct {
	app  *fiber.App
	repo *repository.MemoryLinkRepository
	auth *auth.TokenAuthenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := repository.NewMemoryLinkRepository()
	tokens := httpUtil.NewTokenSigner([]byte("access-token-secret"), time.Minute)
	opts := service.Options{
		Policy:       service.DefaultCodePolicy(),
		Hasher:       service.NewBcryptHasher(bcrypt.MinCost),
		AccessTokens: tokens,
	}
	links := service.NewLinkService(repo, opts)
	authn := auth.NewTokenAuthenticator("handler-test-secret")

	app := fiber.New()
	app.Use(middleware.RequestID())
	NewHealthHandler(nil, nil).Register(app)
	NewBulkHandler(BulkDeps{Bulk: service.NewBulkService(links, 10, nil), Auth: authn, BaseURL: testBaseURL}).Register(app)
	NewAPIHandler(APIDeps{LinkService: links, Auth: authn, BaseURL: testBaseURL}).Register(app)
	NewRedirectHandler(RedirectDeps{
		Resolver: service.NewResolver(repo, opts),
		Links:    links,
		Tokens:   tokens,
		BaseURL:  testBaseURL,
	}).Register(app)

	return &testEnv{app: app, repo: repo, auth: authn}
}

func (e *testEnv) bearer(t *testing.T, owner string) string {
	t.Helper()
	token, err := e.auth.Issue(owner, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, bearer string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestCreateAndRedirect(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "HTTPS://Example.com/a?b=1#frag"}, "")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	code := body["code"].(string)
	assert.Equal(t, testBaseURL+"/"+code, body["short_url"])
	assert.Equal(t, "https://example.com/a?b=1", body["url"])

	resp, _ = env.do(t, fiber.MethodGet, "/"+code, nil, "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/a?b=1", resp.Header.Get(fiber.HeaderLocation))

	resp, body = env.do(t, fiber.MethodGet, "/api/v1/info/"+code, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["click_count"])
}

func TestCreateErrors(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "https://example.com", "alias": "my-link"}, "")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	tests := []struct {
		name   string
		body   fiber.Map
		status int
		code   string
	}{
		{"alias conflict", fiber.Map{"url": "https://example.org", "alias": "my-link"}, fiber.StatusConflict, "ALIAS_CONFLICT"},
		{"reserved alias", fiber.Map{"url": "https://example.org", "alias": "admin"}, fiber.StatusBadRequest, "INVALID_ALIAS"},
		{"bad scheme", fiber.Map{"url": "ftp://example.org"}, fiber.StatusBadRequest, "INVALID_INPUT"},
		{"missing url", fiber.Map{}, fiber.StatusBadRequest, "INVALID_INPUT"},
		{"bad visibility", fiber.Map{"url": "https://example.org", "visibility": "secret"}, fiber.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, fiber.MethodPost, "/api/v1/links", tt.body, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestRedirectDenials(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-time.Hour)
	ctx := context.Background()
	require.NoError(t, env.repo.Create(ctx, &model.Link{Code: "gone1", URL: "https://example.com", Active: true, ExpiresAt: &past}))
	require.NoError(t, env.repo.Create(ctx, &model.Link{Code: "used1", URL: "https://example.com", Active: true, ClickLimit: 1, ClickCount: 1}))
	require.NoError(t, env.repo.Create(ctx, &model.Link{Code: "off01", URL: "https://example.com", Active: false}))

	tests := []struct {
		path   string
		status int
		reason string
	}{
		{"/gone1", fiber.StatusGone, "expired"},
		{"/used1", fiber.StatusGone, "click_limit_reached"},
		{"/off01", fiber.StatusGone, "inactive"},
		{"/nope1", fiber.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := env.do(t, fiber.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, body["reason"])
			}
		})
	}
}

func TestPasswordFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "https://example.com/private", "password": "hunter2"}, "")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	code := body["code"].(string)

	resp, body = env.do(t, fiber.MethodGet, "/"+code, nil, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "PASSWORD_REQUIRED", body["code"])

	req := httptest.NewRequest(fiber.MethodGet, "/"+code, nil)
	req.Header.Set(fiber.HeaderAccept, "text/html,application/xhtml+xml")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), fiber.MIMETextHTML)

	resp, body = env.do(t, fiber.MethodGet, "/api/v1/info/"+code, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["password_protected"])
	assert.NotContains(t, body, "url")

	resp, body = env.do(t, fiber.MethodPost, "/api/v1/verify-password/"+code, fiber.Map{"password": "wrong"}, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_PASSWORD", body["code"])

	resp, body = env.do(t, fiber.MethodPost, "/api/v1/verify-password/"+code, fiber.Map{"password": "hunter2"}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	redirectURL, err := url.Parse(body["redirect_url"].(string))
	require.NoError(t, err)

	resp, _ = env.do(t, fiber.MethodGet, redirectURL.RequestURI(), nil, "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/private", resp.Header.Get(fiber.HeaderLocation))

	form := httptest.NewRequest(fiber.MethodPost, "/"+code, strings.NewReader("password=hunter2"))
	form.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err = env.app.Test(form)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
}

func TestOwnerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.bearer(t, "alice")
	bob := env.bearer(t, "bob")

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "https://example.com", "description": "docs"}, alice)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	resp, body = env.do(t, fiber.MethodGet, "/api/v1/links", nil, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = env.do(t, fiber.MethodGet, "/api/v1/links", nil, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, body = env.do(t, fiber.MethodPatch, "/api/v1/links/"+id, fiber.Map{"visibility": "private", "click_limit": 3}, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "PRIVATE", body["visibility"])
	assert.Equal(t, float64(3), body["remaining_clicks"])

	resp, body = env.do(t, fiber.MethodPost, "/api/v1/links/"+id+"/toggle", nil, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "inactive", body["status"])

	resp, body = env.do(t, fiber.MethodGet, "/api/v1/links/count", nil, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["active"])

	expires := time.Now().Add(48 * time.Hour).UTC()
	resp, body = env.do(t, fiber.MethodPost, "/api/v1/links/"+id+"/extend", fiber.Map{"expires_at": expires}, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["expires_at"])

	resp, _ = env.do(t, fiber.MethodDelete, "/api/v1/links/"+id, nil, bob)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, fiber.MethodDelete, "/api/v1/links/"+id, nil, alice)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, fiber.MethodGet, "/api/v1/links/"+id, nil, alice)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestListPublicAndExpiring(t *testing.T) {
	env := newTestEnv(t)
	alice := env.bearer(t, "alice")

	env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "https://example.com/1"}, alice)
	env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "https://example.com/2", "visibility": "UNLISTED"}, alice)
	env.do(t, fiber.MethodPost, "/api/v1/links", fiber.Map{"url": "https://example.com/3", "expires_in_hours": 2}, alice)

	resp, body := env.do(t, fiber.MethodGet, "/api/v1/links/public?limit=10", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	resp, body = env.do(t, fiber.MethodGet, "/api/v1/links/expiring?hours=3", nil, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

func TestBulkCreateIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	alice := env.bearer(t, "alice")

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/links/bulk", fiber.Map{"links": []fiber.Map{
		{"url": "https://example.com/1"},
		{"url": "javascript:alert(1)"},
		{"url": "https://example.com/3"},
	}}, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total_processed"])
	assert.Equal(t, float64(2), body["success_count"])
	failures := body["failures"].([]interface{})
	require.Len(t, failures, 1)
	assert.Equal(t, float64(1), failures[0].(map[string]interface{})["index"])

	var ids []string
	for _, s := range body["successes"].([]interface{}) {
		ids = append(ids, s.(map[string]interface{})["value"].(map[string]interface{})["id"].(string))
	}

	resp, body = env.do(t, fiber.MethodPut, "/api/v1/links/bulk/visibility", fiber.Map{"ids": ids, "visibility": "private"}, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["success_count"])

	resp, body = env.do(t, fiber.MethodPut, "/api/v1/links/bulk/status", fiber.Map{"ids": ids, "active": false}, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["success_count"])

	resp, body = env.do(t, fiber.MethodPost, "/api/v1/links/bulk/delete", fiber.Map{"ids": append(ids, "not-a-uuid")}, alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["success_count"])
	assert.Equal(t, float64(1), body["failure_count"])
	assert.Equal(t, 0, env.repo.Len())

	resp, _ = env.do(t, fiber.MethodPost, "/api/v1/links/bulk/delete", fiber.Map{"ids": []string{}}, alice)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestValidateURL(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/links/validate", fiber.Map{"url": "http://Example.com/x"}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "http://example.com/x", body["url"])
	assert.Len(t, body["warnings"], 1)

	resp, body = env.do(t, fiber.MethodPost, "/api/v1/links/validate", fiber.Map{"url": "https://localhost/admin"}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotContains(t, body, "url")
	require.Len(t, body["errors"], 1)
	assert.Contains(t, body["errors"].([]interface{})[0], "localhost")

	resp, body = env.do(t, fiber.MethodPost, "/api/v1/links/validate", fiber.Map{}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	// nothing was stored
	assert.Zero(t, env.repo.Len())
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(nil, map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}).Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestWriteError_Unavailable(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return writeError(c, nil, errors.Join(service.ErrUnavailable, errors.New("db down")))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))
}
