package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const ownerIDKey = "owner_id"

// Authenticator resolves a bearer token to an owner id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// OptionalAuth records the owner id when a valid bearer token is presented.
// Missing tokens pass through anonymously; malformed or invalid ones are rejected.
func OptionalAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, present := bearerToken(c)
		if !present {
			return c.Next()
		}
		return authenticate(c, auth, token)
	}
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, present := bearerToken(c)
		if !present {
			return unauthorized(c, "authentication required")
		}
		return authenticate(c, auth, token)
	}
}

// OwnerID returns the authenticated owner, or "" for anonymous requests.
func OwnerID(c *fiber.Ctx) string {
	owner, _ := c.Locals(ownerIDKey).(string)
	return owner
}

func authenticate(c *fiber.Ctx, auth Authenticator, token string) error {
	if token == "" {
		return unauthorized(c, "malformed authorization header")
	}
	owner, err := auth.Authenticate(token)
	if err != nil {
		return unauthorized(c, "invalid or expired token")
	}
	c.Locals(ownerIDKey, owner)
	return c.Next()
}

// bearerToken reports the token and whether an Authorization header was sent.
func bearerToken(c *fiber.Ctx) (string, bool) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

func unauthorized(c *fiber.Ctx, msg string) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="shortlink"`)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}
