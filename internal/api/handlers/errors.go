package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/middleware/auth"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/pkg/logger"
)

func statusFor(kind scanerr.Kind) int {
	switch kind {
	case scanerr.KindFormat:
		return fiber.StatusUnsupportedMediaType
	case scanerr.KindNetwork, scanerr.KindMalformedResponse:
		return fiber.StatusBadGateway
	case scanerr.KindBlocked, scanerr.KindPdfProcessing:
		return fiber.StatusUnprocessableEntity
	case scanerr.KindInvalidRequest, scanerr.KindValidation:
		return fiber.StatusBadRequest
	case scanerr.KindServiceUnavailable:
		return fiber.StatusServiceUnavailable
	case scanerr.KindNotFound:
		return fiber.StatusNotFound
	case scanerr.KindConflict, scanerr.KindBusy:
		return fiber.StatusConflict
	case scanerr.KindUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes {"error": message, "kind": kind}. Unclassified
// errors are logged and reported with a generic message.
func respondError(c *fiber.Ctx, err error) error {
	kind := scanerr.KindOf(err)
	status := statusFor(kind)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": scanerr.UserMessage(err),
		"kind":  kind.String(),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
	})
}

// confirmed gates destructive operations behind ?confirm=true.
func confirmed(c *fiber.Ctx) bool {
	ok, _ := strconv.ParseBool(c.Query("confirm"))
	return ok
}

func requireConfirm(c *fiber.Ctx) error {
	return c.Status(fiber.StatusPreconditionRequired).JSON(fiber.Map{
		"error": "This operation cannot be undone. Repeat the request with confirm=true.",
	})
}

// principal returns the caller; routes using it sit behind auth.Middleware.
func principal(c *fiber.Ctx) account.Principal {
	p, _ := auth.PrincipalFrom(c)
	return p
}
