package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"statement-converter/pkg/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEchoApp(jwtManager *auth.JWTManager, trustProxy bool) *fiber.App {
	app := fiber.New()
	app.Use(ClientAddress(trustProxy))
	app.Use(OptionalAuth(jwtManager, zap.NewNop()))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(SubjectID(c) + "|" + ClientAddressOf(c))
	})
	return app
}

func call(t *testing.T, app *fiber.App, headers map[string]string) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestOptionalAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", "", "")
	app := newEchoApp(jwtManager, true)

	valid, err := jwtManager.GenerateToken("user-7", "", time.Hour)
	require.NoError(t, err)
	expired, err := jwtManager.GenerateToken("user-7", "", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"no header", "", ""},
		{"valid", "Bearer " + valid, "user-7"},
		{"lowercase scheme", "bearer " + valid, "user-7"},
		{"expired", "Bearer " + expired, ""},
		{"garbage", "Bearer nope", ""},
		{"wrong scheme", "Basic " + valid, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"X-Forwarded-For": "198.51.100.4"}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			assert.Equal(t, tt.want+"|198.51.100.4", call(t, app, headers))
		})
	}
}

func TestOptionalAuthWithoutSecret(t *testing.T) {
	app := newEchoApp(auth.NewJWTManager("", "", ""), true)
	assert.Equal(t, "|203.0.113.1", call(t, app, map[string]string{
		"Authorization":   "Bearer anything",
		"X-Forwarded-For": "203.0.113.1",
	}))
}

func TestClientAddress(t *testing.T) {
	trusting := newEchoApp(auth.NewJWTManager("", "", ""), true)
	direct := newEchoApp(auth.NewJWTManager("", "", ""), false)

	assert.Equal(t, "|203.0.113.1", call(t, trusting, map[string]string{
		"X-Forwarded-For":  "203.0.113.1, 10.0.0.1",
		"CF-Connecting-IP": "198.51.100.9",
	}))
	assert.Equal(t, "|198.51.100.9", call(t, trusting, map[string]string{
		"CF-Connecting-IP": "198.51.100.9",
	}))
	assert.Equal(t, "|198.51.100.9", call(t, trusting, map[string]string{
		"X-Forwarded-For":  " , 10.0.0.1",
		"CF-Connecting-IP": "198.51.100.9",
	}))

	got := call(t, direct, map[string]string{"X-Forwarded-For": "203.0.113.1"})
	assert.NotEqual(t, "|203.0.113.1", got)
}
