package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/report"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
)

// HistoryHandler serves the caller's own scan history.
type HistoryHandler struct {
	store  *history.Store
	remote *account.Client
	now    func() time.Time
}

// NewHistoryHandler wires the handler; remote may be nil in local mode.
func NewHistoryHandler(store *history.Store, remote *account.Client) *HistoryHandler {
	return &HistoryHandler{store: store, remote: remote, now: time.Now}
}

func (h *HistoryHandler) List(c *fiber.Ctx) error {
	records, err := h.store.History(c.UserContext(), principal(c).User.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"history": records})
}

func (h *HistoryHandler) Get(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.UserContext(), principal(c).User.Email, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

func (h *HistoryHandler) Update(c *fiber.Ctx) error {
	p := principal(c)
	rec, err := correct(c, h.store, h.remote, p.Token, p.User.Email, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

func (h *HistoryHandler) Delete(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	p := principal(c)
	if err := deleteScan(c.UserContext(), h.store, h.remote, p.Token, p.User.Email, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *HistoryHandler) Clear(c *fiber.Ctx) error {
	if !confirmed(c) {
		return requireConfirm(c)
	}
	if err := h.store.Clear(c.UserContext(), principal(c).User.Email); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *HistoryHandler) Report(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.UserContext(), principal(c).User.Email, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return sendReport(c, *rec, report.SingleFilename(*rec, h.now()))
}

// ReportAll exports the caller's whole history as one document.
func (h *HistoryHandler) ReportAll(c *fiber.Ctx) error {
	p := principal(c)
	records, err := h.store.History(c.UserContext(), p.User.Email)
	if err != nil {
		return respondError(c, err)
	}
	out, err := report.RenderBatch(records, p.User.Name)
	if err != nil {
		return respondError(c, err)
	}
	return sendHTML(c, out, report.BatchFilename(p.User.Name, h.now()))
}

type correction struct {
	PatientInfo    *models.PatientContext `json:"patientInfo"`
	AnalysisResult *models.AnalysisResult `json:"analysisResult"`
}

// correct applies a manual edit to owner's record, adds it to the
// correction feed and reports it to the account service when possible.
func correct(c *fiber.Ctx, store *history.Store, remote *account.Client, token, owner, scanID string) (*models.ScanRecord, error) {
	var req correction
	if err := c.BodyParser(&req); err != nil {
		return nil, scanerr.New(scanerr.KindValidation, "Invalid request body.")
	}
	if req.PatientInfo == nil && req.AnalysisResult == nil {
		return nil, scanerr.New(scanerr.KindValidation, "Nothing to update.")
	}

	ctx := c.UserContext()
	original, err := store.Get(ctx, owner, scanID)
	if err != nil {
		return nil, err
	}

	edited := original.Clone()
	if req.PatientInfo != nil {
		if !req.PatientInfo.Gender.Valid() {
			return nil, scanerr.New(scanerr.KindValidation, "Gender must be Male or Female.")
		}
		edited.PatientInfo = *req.PatientInfo
	}
	if req.AnalysisResult != nil {
		if strings.TrimSpace(req.AnalysisResult.Diagnosis) == "" {
			return nil, scanerr.New(scanerr.KindValidation, "A diagnosis is required.")
		}
		if err := req.AnalysisResult.CheckRanges(); err != nil {
			return nil, scanerr.New(scanerr.KindValidation, "Invalid analysis result: "+err.Error()+".")
		}
		edited.AnalysisResult = *req.AnalysisResult.Clone()
	}

	ok, err := store.Update(ctx, owner, edited)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, scanerr.New(scanerr.KindNotFound, "Scan not found.")
	}

	if err := store.AddCorrection(ctx, edited); err != nil {
		logger.Warn("Failed to record correction example", zap.String("scan_id", scanID), zap.Error(err))
	}
	if remote != nil && token != "" {
		if err := remote.SubmitFeedback(ctx, token, scanID, account.FeedbackFor(*original, edited)); err != nil {
			logger.Warn("Failed to submit correction feedback", zap.String("scan_id", scanID), zap.Error(err))
		}
	}
	return &edited, nil
}

func deleteScan(ctx context.Context, store *history.Store, remote *account.Client, token, owner, scanID string) error {
	ok, err := store.Delete(ctx, owner, scanID)
	if err != nil {
		return err
	}
	if !ok {
		return scanerr.New(scanerr.KindNotFound, "Scan not found.")
	}
	if remote != nil && token != "" {
		if err := remote.DeleteScan(ctx, token, scanID); err != nil {
			logger.Warn("Failed to delete mirrored scan", zap.String("scan_id", scanID), zap.Error(err))
		}
	}
	return nil
}
