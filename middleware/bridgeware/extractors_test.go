package bridgeware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExtractors(t *testing.T) {
	assert.Len(t, GetExtractors("header:Authorization,cookie:jwt,query:auth_token,param:token"), 4)
	assert.Len(t, GetExtractors("header:Authorization, bogus:x, query:"), 1)
	assert.Empty(t, GetExtractors(""))
}

func TestExtractRawToken(t *testing.T) {
	extractors := GetExtractors("header:Authorization,cookie:jwt,query:auth_token,param:token", "Bearer")

	tests := []struct {
		name     string
		target   string
		header   string
		cookie   string
		expected string
		missing  bool
	}{
		{name: "header", target: "/x", header: "Bearer abc", expected: "abc"},
		{name: "scheme is case insensitive", target: "/x", header: "bearer abc", expected: "abc"},
		{name: "wrong scheme", target: "/x", header: "Basic abc", missing: true},
		{name: "scheme only", target: "/x", header: "Bearer ", missing: true},
		{name: "cookie", target: "/x", cookie: "def", expected: "def"},
		{name: "query", target: "/x?auth_token=ghi", expected: "ghi"},
		{name: "param", target: "/p/jkl", expected: "jkl"},
		{name: "nothing", target: "/x", missing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got string
				err error
			)
			handler := func(c *fiber.Ctx) error {
				got, err = ExtractRawToken(c, extractors)
				return nil
			}

			app := fiber.New()
			app.Get("/x", handler)
			app.Get("/p/:token", handler)

			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.Header.Set("Cookie", "jwt="+tt.cookie)
			}

			resp, testErr := app.Test(req, -1)
			require.NoError(t, testErr)
			resp.Body.Close()

			if tt.missing {
				assert.ErrorIs(t, err, ErrJWTMissingOrMalformed)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
