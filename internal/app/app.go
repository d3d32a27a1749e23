package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/account"
	"github.com/cardioscan/backend/internal/analysis"
	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/scanner"
	"github.com/cardioscan/backend/internal/storage"
	"github.com/cardioscan/backend/internal/storage/kv"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
)

// Components are the services shared by the HTTP server and the CLI.
type Components struct {
	Store         kv.Store
	History       *history.Store
	Analyzer      analysis.Analyzer
	Processor     *ingestion.Processor
	Scanners      *scanner.Manager
	Sessions      *account.Sessions
	Authenticator account.Authenticator
	Remote        *account.Client
}

func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	store, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	hist := history.New(store, history.WithCorrectionCap(cfg.History.CorrectionCap))
	err = hist.Initialize(ctx, history.AdminSeed{
		Email:    cfg.History.AdminEmail,
		Name:     cfg.History.AdminName,
		Password: cfg.History.AdminPassword,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}

	analyzer, err := analysis.NewAnalyzer(cfg.Analysis)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	processor := ingestion.NewProcessor(cfg.Ingestion)

	c := &Components{
		Store:     store,
		History:   hist,
		Analyzer:  analyzer,
		Processor: processor,
		Sessions:  account.NewSessions(time.Duration(cfg.Account.SessionTTLHours) * time.Hour),
	}

	var recorder scanner.Recorder = hist
	if cfg.Account.BaseURL != "" {
		remote, err := account.NewClient(cfg.Account)
		if err != nil {
			store.Close()
			return nil, err
		}
		c.Remote = remote
		c.Authenticator = remote
		if cfg.Account.MirrorScans {
			recorder = account.NewMirror(hist, remote)
		}
		logger.Info("Using remote account service", zap.String("url", cfg.Account.BaseURL))
	} else {
		c.Authenticator = account.NewLocal(hist,
			account.WithResetTTL(time.Duration(cfg.Account.ResetCodeTTLMin)*time.Minute),
		)
	}

	c.Scanners = scanner.NewManager(analyzer, processor, recorder,
		scanner.WithExampleCount(cfg.Analysis.CorrectionExamples),
	)

	logger.Info("Components initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("provider", cfg.Analysis.Provider),
		zap.String("model", cfg.Analysis.Model),
	)
	return c, nil
}

// Close waits for background analyses and releases storage.
func (c *Components) Close() error {
	c.Scanners.Wait()
	return c.Store.Close()
}
