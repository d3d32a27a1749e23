package handlers

import (
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/overlay"
	"github.com/cardioscan/backend/internal/report"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/scanner"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/config"
)

var defaultViewport = overlay.Viewport{Width: 1600, Height: 900}

type ScannerHandler struct {
	manager        *scanner.Manager
	focusScale     float64
	maxUploadBytes int
	now            func() time.Time
}

func NewScannerHandler(manager *scanner.Manager, overlayCfg config.OverlayConfig, ingestCfg config.IngestionConfig) *ScannerHandler {
	scale := overlayCfg.FocusScale
	if scale < 1 {
		scale = overlay.DefaultFocusScale
	}
	return &ScannerHandler{
		manager:        manager,
		focusScale:     scale,
		maxUploadBytes: ingestCfg.MaxUploadBytes,
		now:            time.Now,
	}
}

func (h *ScannerHandler) session(c *fiber.Ctx) *scanner.Session {
	return h.manager.Session(principal(c).User.Email)
}

func (h *ScannerHandler) GetState(c *fiber.Ctx) error {
	return c.JSON(h.session(c).State())
}

func (h *ScannerHandler) GetProgress(c *fiber.Ctx) error {
	return c.JSON(h.session(c).Progress())
}

func (h *ScannerHandler) SetPatient(c *fiber.Ctx) error {
	var p models.PatientContext
	if err := c.BodyParser(&p); err != nil {
		return badRequest(c, "Invalid request body")
	}
	state, err := h.session(c).SetPatient(p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

func (h *ScannerHandler) SetPatientField(c *fiber.Ctx) error {
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	state, err := h.session(c).SetPatientField(req.Field, req.Value)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

// UploadFile accepts a multipart "file" field and ingests it. PDFs are
// rasterized before the response is written.
func (h *ScannerHandler) UploadFile(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "A file is required")
	}
	if h.maxUploadBytes > 0 && fh.Size > int64(h.maxUploadBytes) {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "The file is too large.",
		})
	}

	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "The file could not be read")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return badRequest(c, "The file could not be read")
	}

	state, err := h.session(c).SelectFile(c.UserContext(), ingestion.File{
		Name:      fh.Filename,
		MediaType: fh.Header.Get(fiber.HeaderContentType),
		Data:      data,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

// Analyze starts an analysis. With ?wait=true the response carries the
// final state; otherwise it returns 202 with the analyzing state.
func (h *ScannerHandler) Analyze(c *fiber.Ctx) error {
	ctx := account.WithToken(c.UserContext(), principal(c).Token)
	sess := h.session(c)

	if !c.QueryBool("wait") {
		state, err := sess.StartAnalysis(ctx)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(state)
	}

	state, err := sess.Analyze(ctx)
	switch {
	case err == nil:
		return c.JSON(state)
	case state.Status == "":
		return respondError(c, err)
	case state.Status == scanner.StatusSuccess:
		return c.JSON(fiber.Map{
			"state":   state,
			"warning": "The analysis finished but could not be saved to history.",
		})
	default:
		return c.Status(statusFor(scanerr.KindOf(err))).JSON(fiber.Map{
			"error": state.Error,
			"state": state,
		})
	}
}

type annotationRequest struct {
	Index *int `json:"index"`
}

func (h *ScannerHandler) SelectAnnotation(c *fiber.Ctx) error {
	var req annotationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	state, err := h.session(c).SelectAnnotation(req.Index)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

func (h *ScannerHandler) HoverAnnotation(c *fiber.Ctx) error {
	var req annotationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	state, err := h.session(c).HoverAnnotation(req.Index)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

func (h *ScannerHandler) NextAnnotation(c *fiber.Ctx) error {
	state, err := h.session(c).NextAnnotation()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

func (h *ScannerHandler) PrevAnnotation(c *fiber.Ctx) error {
	state, err := h.session(c).PrevAnnotation()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

func (h *ScannerHandler) ClearFile(c *fiber.Ctx) error {
	return c.JSON(h.session(c).ClearFile())
}

func (h *ScannerHandler) Reset(c *fiber.Ctx) error {
	return c.JSON(h.session(c).Reset())
}

// Overlay returns the drawable markers and the camera that frames the
// active one for a viewport given by ?width=&height=.
func (h *ScannerHandler) Overlay(c *fiber.Ctx) error {
	state := h.session(c).State()
	if state.Result == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No analysis result to display."})
	}

	vp := viewportFrom(c)
	markers := overlay.Map(state.Result.Annotations, state.ActiveAnnotation, state.HoveredAnnotation)
	camera := overlay.Fit()
	if state.ActiveAnnotation != nil {
		if m, ok := overlay.Find(markers, *state.ActiveAnnotation); ok {
			camera = overlay.Focus(vp, m, h.focusScale)
		}
	}

	return c.JSON(fiber.Map{
		"viewport": vp,
		"camera":   camera,
		"markers":  markers,
	})
}

func (h *ScannerHandler) OverlaySVG(c *fiber.Ctx) error {
	state := h.session(c).State()
	if state.Preview == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No image selected."})
	}

	var markers []overlay.Marker
	if state.Result != nil {
		markers = overlay.Map(state.Result.Annotations, state.ActiveAnnotation, state.HoveredAnnotation)
	}
	svg, err := overlay.RenderSVG(state.Preview.DataURI, state.Preview.Width, state.Preview.Height, markers)
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "image/svg+xml")
	return c.Send(svg)
}

// Report renders the current result as a downloadable HTML report.
func (h *ScannerHandler) Report(c *fiber.Ctx) error {
	state := h.session(c).State()
	if state.Result == nil || state.Preview == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No analysis result to export."})
	}

	now := h.now()
	record := models.ScanRecord{
		PatientInfo:    state.Patient,
		AnalysisResult: *state.Result,
		ImageDataURI:   state.Preview.DataURI,
		Timestamp:      now,
	}
	return sendReport(c, record, report.SingleFilename(record, now))
}

func sendReport(c *fiber.Ctx, record models.ScanRecord, filename string) error {
	out, err := report.RenderSingle(record)
	if err != nil {
		return respondError(c, err)
	}
	return sendHTML(c, out, filename)
}

func sendHTML(c *fiber.Ctx, out []byte, filename string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Attachment(filename)
	return c.Send(out)
}

func viewportFrom(c *fiber.Ctx) overlay.Viewport {
	vp := defaultViewport
	if w := c.QueryFloat("width"); w > 0 {
		vp.Width = w
	}
	if hgt := c.QueryFloat("height"); hgt > 0 {
		vp.Height = hgt
	}
	return vp
}

func parsePositive(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
