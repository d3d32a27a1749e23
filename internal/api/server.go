package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/api/handlers"
	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/middleware/auth"
	"github.com/cardioscan/backend/internal/middleware/ratelimit"
	"github.com/cardioscan/backend/internal/middleware/security"
	"github.com/cardioscan/backend/internal/middleware/validation"
	"github.com/cardioscan/backend/internal/scanner"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
)

type Deps struct {
	Config        *config.Config
	History       *history.Store
	Scanners      *scanner.Manager
	Sessions      *account.Sessions
	Authenticator account.Authenticator
	// Remote is nil when no account service is configured.
	Remote *account.Client
}

// Server is the HTTP application and the limiters it owns.
type Server struct {
	App      *fiber.App
	limiters []*ratelimit.RateLimiter
}

func New(d Deps) *Server {
	cfg := d.Config

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.Server.Development {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	requestLimiter := ratelimit.New(ratelimit.Config{
		Name:                 "requests",
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               logger.GetLogger(),
	})
	analysisLimiter := ratelimit.New(ratelimit.Config{
		Name:                 "analyses",
		MaxRequestsPerMinute: cfg.RateLimit.AnalysesPerMinute,
		Logger:               logger.GetLogger(),
	})

	requireUser := auth.Middleware(auth.Config{Sessions: d.Sessions})

	authHandler := handlers.NewAuthHandler(d.Authenticator, d.Sessions, d.Scanners, d.Remote == nil && cfg.Server.Development)
	scannerHandler := handlers.NewScannerHandler(d.Scanners, cfg.Overlay, cfg.Ingestion)
	historyHandler := handlers.NewHistoryHandler(d.History, d.Remote)
	adminHandler := handlers.NewAdminHandler(d.History, d.Sessions, d.Remote)
	wsHandler := handlers.NewWebSocketHandler(d.Scanners, cfg.Progress, cfg.Overlay)
	healthHandler := handlers.NewHealthHandler(handlers.PingFunc(func(ctx context.Context) error {
		_, err := d.History.Users(ctx)
		return err
	}))

	app.Get("/ws/scanner",
		wsHandler.Upgrade,
		auth.Middleware(auth.Config{Sessions: d.Sessions, AllowQueryToken: true}),
		websocket.New(wsHandler.HandleConnection),
	)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	api.Use(validation.Middleware(validation.Config{
		MaxUploadBytes: cfg.Ingestion.MaxUploadBytes,
		SkipPaths:      []string{"/api/v1/admin/backup"},
		Logger:         logger.GetLogger(),
	}))

	authGroup := api.Group("/auth", requestLimiter.Middleware())
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/signup", authHandler.Signup)
	authGroup.Post("/request-reset", authHandler.RequestReset)
	authGroup.Post("/verify-reset", authHandler.VerifyReset)
	authGroup.Post("/finalize-reset", authHandler.FinalizeReset)
	authGroup.Post("/logout", requireUser, authHandler.Logout)
	authGroup.Get("/me", requireUser, authHandler.Me)

	sc := api.Group("/scanner", requireUser, requestLimiter.Middleware())
	sc.Get("/", scannerHandler.GetState)
	sc.Get("/progress", scannerHandler.GetProgress)
	sc.Put("/patient", scannerHandler.SetPatient)
	sc.Patch("/patient", scannerHandler.SetPatientField)
	sc.Post("/file", scannerHandler.UploadFile)
	sc.Post("/analyze", analysisLimiter.Middleware(), scannerHandler.Analyze)
	sc.Post("/annotations/select", scannerHandler.SelectAnnotation)
	sc.Post("/annotations/hover", scannerHandler.HoverAnnotation)
	sc.Post("/annotations/next", scannerHandler.NextAnnotation)
	sc.Post("/annotations/prev", scannerHandler.PrevAnnotation)
	sc.Get("/overlay", scannerHandler.Overlay)
	sc.Get("/overlay.svg", scannerHandler.OverlaySVG)
	sc.Get("/report.html", scannerHandler.Report)
	sc.Post("/clear", scannerHandler.ClearFile)
	sc.Post("/reset", scannerHandler.Reset)

	hist := api.Group("/history", requireUser, requestLimiter.Middleware())
	hist.Get("/", historyHandler.List)
	hist.Delete("/", historyHandler.Clear)
	hist.Get("/report.html", historyHandler.ReportAll)
	hist.Get("/:id", historyHandler.Get)
	hist.Put("/:id", historyHandler.Update)
	hist.Delete("/:id", historyHandler.Delete)
	hist.Get("/:id/report.html", historyHandler.Report)

	admin := api.Group("/admin", requireUser, auth.RequireAdmin())
	admin.Get("/users", adminHandler.ListUsers)
	admin.Get("/account-users", adminHandler.ListAccountUsers)
	admin.Delete("/users/:email", adminHandler.DeleteUser)
	admin.Get("/users/:email/report.html", adminHandler.UserReport)
	admin.Delete("/users/:email/history", adminHandler.ClearUserHistory)
	admin.Put("/users/:email/history/:id", adminHandler.UpdateScan)
	admin.Delete("/users/:email/history/:id", adminHandler.DeleteScan)
	admin.Delete("/history", adminHandler.ClearAllHistory)
	admin.Get("/backup", adminHandler.ExportBackup)
	admin.Post("/backup", adminHandler.ImportBackup)

	return &Server{App: app, limiters: []*ratelimit.RateLimiter{requestLimiter, analysisLimiter}}
}

// Shutdown stops the limiters and drains in-flight requests.
func (s *Server) Shutdown() error {
	for _, l := range s.limiters {
		l.Stop()
	}
	return s.App.Shutdown()
}
