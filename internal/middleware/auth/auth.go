package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cardioscan/backend/internal/account"
)

// LocalsPrincipal is the fiber Locals key holding the account.Principal.
const LocalsPrincipal = "principal"

type Config struct {
	Sessions *account.Sessions
	// AllowQueryToken accepts ?token= for clients that cannot set headers,
	// such as browser WebSockets.
	AllowQueryToken bool
}

// Middleware resolves "Authorization: Bearer <token>" to a session principal.
func Middleware(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" && cfg.AllowQueryToken {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication is required.",
			})
		}

		p, ok := cfg.Sessions.Lookup(token)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Your session has expired. Please sign in again.",
			})
		}

		c.Locals(LocalsPrincipal, p)
		c.Locals("token", token)
		return c.Next()
	}
}

func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFrom(c)
		if !ok || !p.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Administrator access is required.",
			})
		}
		return c.Next()
	}
}

func PrincipalFrom(c *fiber.Ctx) (account.Principal, bool) {
	p, ok := c.Locals(LocalsPrincipal).(account.Principal)
	return p, ok
}

// TokenFrom returns the session token the request authenticated with.
func TokenFrom(c *fiber.Ctx) string {
	t, _ := c.Locals("token").(string)
	return t
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
