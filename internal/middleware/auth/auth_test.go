package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/storage/models"
)

func newApp(sessions *account.Sessions, allowQuery bool) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{Sessions: sessions, AllowQueryToken: allowQuery}))
	app.Get("/me", func(c *fiber.Ctx) error {
		p, _ := PrincipalFrom(c)
		return c.SendString(p.User.Email)
	})
	app.Get("/admin", RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestMiddleware(t *testing.T) {
	sessions := account.NewSessions(time.Hour)
	user := sessions.Issue(account.Identity{User: models.User{Email: "ann@example.com", Role: models.RoleUser}})
	admin := sessions.Issue(account.Identity{User: models.User{Email: "admin@ecg.app", Role: models.RoleAdmin}})

	tests := []struct {
		name   string
		path   string
		header string
		query  bool
		want   int
	}{
		{name: "no token", path: "/me", want: fiber.StatusUnauthorized},
		{name: "unknown token", path: "/me", header: "Bearer nope", want: fiber.StatusUnauthorized},
		{name: "wrong scheme", path: "/me", header: "Basic " + user, want: fiber.StatusUnauthorized},
		{name: "user", path: "/me", header: "Bearer " + user, want: fiber.StatusOK},
		{name: "lowercase scheme", path: "/me", header: "bearer " + user, want: fiber.StatusOK},
		{name: "user on admin route", path: "/admin", header: "Bearer " + user, want: fiber.StatusForbidden},
		{name: "admin", path: "/admin", header: "Bearer " + admin, want: fiber.StatusNoContent},
		{name: "query token disabled", path: "/me?token=" + user, want: fiber.StatusUnauthorized},
		{name: "query token enabled", path: "/me?token=" + user, query: true, want: fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(sessions, tt.query)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
