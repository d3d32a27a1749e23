package handlers

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/report"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

// AdminHandler manages every user's data. Routes sit behind
// auth.RequireAdmin.
type AdminHandler struct {
	store    *history.Store
	sessions *account.Sessions
	remote   *account.Client
	now      func() time.Time
}

func NewAdminHandler(store *history.Store, sessions *account.Sessions, remote *account.Client) *AdminHandler {
	return &AdminHandler{store: store, sessions: sessions, remote: remote, now: time.Now}
}

// target is the :email route parameter, unescaped.
func target(c *fiber.Ctx) string {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		return c.Params("email")
	}
	return email
}

// ListUsers returns every other user together with their history.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.store.ListUsersWithHistory(c.UserContext(), principal(c).User.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// ListAccountUsers proxies the account service's user list.
func (h *AdminHandler) ListAccountUsers(c *fiber.Ctx) error {
	if h.remote == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No account service is configured."})
	}
	users, err := h.remote.Users(c.UserContext(), principal(c).Token)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	email := target(c)
	if err := h.store.DeleteUser(c.UserContext(), email); err != nil {
		return respondError(c, err)
	}
	revoked := h.sessions.RevokeUser(email)
	logger.Info("User deleted",
		zap.String("email", utils.MaskEmail(email)),
		zap.String("by", utils.MaskEmail(principal(c).User.Email)),
		zap.Int("sessions_revoked", revoked),
	)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) UpdateScan(c *fiber.Ctx) error {
	rec, err := correct(c, h.store, h.remote, principal(c).Token, target(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

func (h *AdminHandler) DeleteScan(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	if err := deleteScan(c.UserContext(), h.store, h.remote, principal(c).Token, target(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) ClearUserHistory(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	if err := h.store.Clear(c.UserContext(), target(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) ClearAllHistory(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	if err := h.store.ClearAll(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) UserReport(c *fiber.Ctx) error {
	email := target(c)
	user, err := h.store.GetUser(c.UserContext(), email)
	if err != nil {
		return respondError(c, err)
	}
	records, err := h.store.History(c.UserContext(), email)
	if err != nil {
		return respondError(c, err)
	}
	out, err := report.RenderBatch(records, user.Name)
	if err != nil {
		return respondError(c, err)
	}
	return sendHTML(c, out, report.BatchFilename(user.Name, h.now()))
}

// ExportBackup downloads every user and history as one JSON file.
func (h *AdminHandler) ExportBackup(c *fiber.Ctx) error {
	b, err := h.store.ExportAll(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	data, err := history.MarshalBackup(b)
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	c.Attachment(history.BackupFilename(h.now()))
	return c.Send(data)
}

// ImportBackup replaces all users and histories with the request body.
func (h *AdminHandler) ImportBackup(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	if err := h.store.ImportAll(c.UserContext(), c.Body()); err != nil {
		return respondError(c, err)
	}

	logger.Info("Backup imported", zap.String("by", utils.MaskEmail(principal(c).User.Email)))
	return c.JSON(fiber.Map{"message": "Backup imported."})
}
