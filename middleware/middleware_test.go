package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"user_id": UserID(c), "roles": strings.Join(UserRoles(c), "|"), "admin": HasRole(c, "admin")})
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret", nil))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong", "Bearer nope", fiber.StatusUnauthorized},
		{"bearer", "Bearer secret", fiber.StatusOK},
		{"raw", "secret", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestGatewayAuthRejectsEverythingWithoutToken(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("", nil))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestUserContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware(nil))
	app.Get("/me", okHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-User-ID", "u-42")
	req.Header.Set("X-User-Roles", "player, admin ,")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, decodeJSON(resp.Body, &body))
	assert.Equal(t, "u-42", body["user_id"])
	assert.Equal(t, "player|admin", body["roles"])
	assert.Equal(t, true, body["admin"])
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware(nil), RequireRole("admin", nil))
	app.Get("/ops", okHandler)

	cases := []struct {
		name  string
		roles string
		want  int
	}{
		{"no roles", "", fiber.StatusForbidden},
		{"other role", "player", fiber.StatusForbidden},
		{"admin", "player,Admin", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ops", nil)
			req.Header.Set("X-User-ID", "u-1")
			req.Header.Set("X-User-Roles", tc.roles)
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(6, nil) // burst of 1
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	app := fiber.New()
	app.Use(UserContextMiddleware(nil))
	app.Use(rl.Handler())
	app.Get("/x", okHandler)

	call := func(user string) *httptestResponse {
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("X-User-ID", user)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return &httptestResponse{status: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After")}
	}

	assert.Equal(t, fiber.StatusOK, call("alice").status)
	limited := call("alice")
	assert.Equal(t, fiber.StatusTooManyRequests, limited.status)
	assert.Equal(t, "10", limited.retryAfter)

	// other callers have their own bucket
	assert.Equal(t, fiber.StatusOK, call("bob").status)

	clock = clock.Add(10 * time.Second)
	assert.Equal(t, fiber.StatusOK, call("alice").status)
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(60, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.reserve("a")
	rl.reserve("b")
	clock = clock.Add(limiterIdleTTL + 2*time.Minute)
	rl.reserve("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "c")
}
