package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/middleware/auth"
	"github.com/cardioscan/backend/internal/overlay"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/scanner"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

// WebSocketHandler streams a user's scanner session: a state message after
// every transition, progress ticks while busy and camera transitions when
// the active annotation changes. Clients drive annotation navigation with
// {"type": "select"|"hover"|"next"|"prev", "index": n}.
type WebSocketHandler struct {
	manager    *scanner.Manager
	tick       time.Duration
	focusScale float64
	animation  time.Duration
}

func NewWebSocketHandler(manager *scanner.Manager, progressCfg config.ProgressConfig, overlayCfg config.OverlayConfig) *WebSocketHandler {
	tick := time.Duration(progressCfg.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &WebSocketHandler{
		manager:    manager,
		tick:       tick,
		focusScale: overlayCfg.FocusScale,
		animation:  time.Duration(overlayCfg.AnimationMs) * time.Millisecond,
	}
}

// Upgrade rejects plain HTTP requests on the WebSocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type clientMessage struct {
	Type  string `json:"type"`
	Index *int   `json:"index"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	p, ok := c.Locals(auth.LocalsPrincipal).(account.Principal)
	if !ok {
		c.Close()
		return
	}
	owner := utils.MaskEmail(p.User.Email)
	logger.Info("WebSocket connection established", zap.String("owner", owner))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("owner", owner))
	}()

	sess := h.manager.Session(p.User.Email)
	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	vp := defaultViewport
	if w := parsePositive(c.Query("width")); w > 0 {
		vp.Width = w
	}
	if hgt := parsePositive(c.Query("height")); hgt > 0 {
		vp.Height = hgt
	}
	follower := overlay.NewFollower(vp, h.focusScale, h.animation)

	incoming := make(chan clientMessage)
	done := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(done)
		for {
			var msg clientMessage
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case incoming <- msg:
			case <-quit:
				return
			}
		}
	}()

	state := sess.State()
	if err := h.sendState(c, follower, state); err != nil {
		return
	}

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := h.sendState(c, follower, st); err != nil {
				logger.Debug("Failed to send state", zap.Error(err))
				return
			}
		case <-ticker.C:
			progress := sess.Progress()
			if !progress.Status.Busy() {
				continue
			}
			if err := c.WriteJSON(fiber.Map{"type": "progress", "progress": progress}); err != nil {
				return
			}
		case msg := <-incoming:
			if err := h.apply(sess, msg); err != nil {
				if werr := h.sendError(c, err); werr != nil {
					return
				}
			}
		}
	}
}

func (h *WebSocketHandler) apply(sess *scanner.Session, msg clientMessage) error {
	var err error
	switch msg.Type {
	case "select":
		_, err = sess.SelectAnnotation(msg.Index)
	case "hover":
		_, err = sess.HoverAnnotation(msg.Index)
	case "next":
		_, err = sess.NextAnnotation()
	case "prev":
		_, err = sess.PrevAnnotation()
	default:
		err = scanerr.New(scanerr.KindValidation, "Unknown message type.")
	}
	return err
}

func (h *WebSocketHandler) sendState(c *websocket.Conn, follower *overlay.Follower, st scanner.State) error {
	if err := c.WriteJSON(fiber.Map{"type": "state", "state": st}); err != nil {
		return err
	}

	var markers []overlay.Marker
	if st.Result != nil {
		markers = overlay.Map(st.Result.Annotations, st.ActiveAnnotation, st.HoveredAnnotation)
	}
	tr, changed := follower.Update(st.ActiveAnnotation, markers)
	if !changed {
		return nil
	}
	return c.WriteJSON(fiber.Map{"type": "camera", "transition": tr})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) error {
	return c.WriteJSON(fiber.Map{
		"type":  "error",
		"error": scanerr.UserMessage(err),
	})
}
