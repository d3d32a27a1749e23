package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/middleware/auth"
	"github.com/cardioscan/backend/internal/scanner"
)

type AuthHandler struct {
	authenticator account.Authenticator
	sessions      *account.Sessions
	scanners      *scanner.Manager
	// exposeResetCode returns reset codes in responses when no mail channel
	// exists, as in local development.
	exposeResetCode bool
}

func NewAuthHandler(authenticator account.Authenticator, sessions *account.Sessions, scanners *scanner.Manager, exposeResetCode bool) *AuthHandler {
	return &AuthHandler{
		authenticator:   authenticator,
		sessions:        sessions,
		scanners:        scanners,
		exposeResetCode: exposeResetCode,
	}
}

type credentials struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "Email and password are required")
	}

	id, err := h.authenticator.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return h.issue(c, fiber.StatusOK, id)
}

func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return badRequest(c, "Name, email and password are required")
	}

	id, err := h.authenticator.Signup(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return h.issue(c, fiber.StatusCreated, id)
}

func (h *AuthHandler) issue(c *fiber.Ctx, status int, id *account.Identity) error {
	token := h.sessions.Issue(*id)
	return c.Status(status).JSON(fiber.Map{
		"token": token,
		"user":  id.User,
	})
}

// Logout ends the session and discards the caller's scanner.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.sessions.Revoke(auth.TokenFrom(c))
	h.scanners.Drop(principal(c).User.Email)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"user": principal(c).User})
}

func (h *AuthHandler) RequestReset(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return badRequest(c, "Email is required")
	}

	ticket, err := h.authenticator.RequestReset(c.UserContext(), req.Email)
	if err != nil {
		return respondError(c, err)
	}
	if !h.exposeResetCode {
		ticket.Code = ""
	}
	return c.JSON(fiber.Map{
		"message": "A reset code has been issued.",
		"data":    ticket,
	})
}

func (h *AuthHandler) VerifyReset(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Code == "" {
		return badRequest(c, "Email and code are required")
	}
	if err := h.authenticator.VerifyReset(c.UserContext(), req.Email, req.Code); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Code verified."})
}

func (h *AuthHandler) FinalizeReset(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Code == "" || req.NewPassword == "" {
		return badRequest(c, "Email, code and new password are required")
	}
	if err := h.authenticator.FinalizeReset(c.UserContext(), req.Email, req.NewPassword, req.Code); err != nil {
		return respondError(c, err)
	}
	h.sessions.RevokeUser(req.Email)
	return c.JSON(fiber.Map{"message": "Password updated. Please sign in again."})
}
