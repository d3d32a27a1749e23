package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxFieldLength      int
	MaxUploadBytes      int
	AllowedContentTypes []string
	// SkipPaths are path prefixes whose JSON bodies are not inspected,
	// such as backup imports that carry image payloads.
	SkipPaths []string
	Logger    *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxFieldLength == 0 {
		cfg.MaxFieldLength = 5000
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 20 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch {
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		if len(c.Body()) == 0 && contentType == "" {
			return c.Next()
		}

		allowed := false
		for _, allowedType := range cfg.AllowedContentTypes {
			if strings.HasPrefix(contentType, allowedType) {
				allowed = true
				break
			}
		}
		if !allowed {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
			if len(c.Body()) > cfg.MaxUploadBytes {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "The file is too large.",
				})
			}
			return c.Next()
		}

		for _, prefix := range cfg.SkipPaths {
			if strings.HasPrefix(c.Path(), prefix) {
				return c.Next()
			}
		}

		var body any
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if field, problem := inspect("", body, cfg.MaxFieldLength); problem != "" {
			if problem == problemMarkup {
				cfg.Logger.Warn("Markup rejected in request body",
					zap.String("path", c.Path()),
					zap.String("field", field),
				)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": problem,
				"field": field,
			})
		}

		return c.Next()
	}
}

const (
	problemTooLong = "Field exceeds maximum length"
	problemMarkup  = "Invalid field content"
)

// inspect walks decoded JSON and reports the first string field that is too
// long or carries script markup.
func inspect(path string, v any, maxLen int) (string, string) {
	switch t := v.(type) {
	case string:
		if len(t) > maxLen {
			return path, problemTooLong
		}
		if xssPattern.MatchString(t) || strings.ContainsRune(t, 0) {
			return path, problemMarkup
		}
	case map[string]any:
		for k, child := range t {
			if field, problem := inspect(join(path, k), child, maxLen); problem != "" {
				return field, problem
			}
		}
	case []any:
		for _, child := range t {
			if field, problem := inspect(path, child, maxLen); problem != "" {
				return field, problem
			}
		}
	}
	return "", ""
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
