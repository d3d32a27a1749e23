package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Ingestion.PDFScale != 2.5 || cfg.Ingestion.PDFQuality != 95 || cfg.Ingestion.PDFFormat != "jpeg" {
		t.Errorf("Ingestion = %+v", cfg.Ingestion)
	}
	if cfg.History.CorrectionCap != 10 || cfg.Analysis.CorrectionExamples != 2 {
		t.Errorf("correction settings = %d/%d", cfg.History.CorrectionCap, cfg.Analysis.CorrectionExamples)
	}
	if cfg.Overlay.FocusScale != 3 || cfg.Account.SessionTTLHours != 24 {
		t.Errorf("overlay/account = %+v %+v", cfg.Overlay, cfg.Account)
	}
}

func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("CARDIOSCAN_ANALYSIS_PROVIDER", "ollama")
	t.Setenv("CARDIOSCAN_STORAGE_DRIVER", "memory")

	cfg, err := LoadFile(writeConfig(t, "analysis:\n  provider: openai\n"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Analysis.Provider != "ollama" {
		t.Errorf("Analysis.Provider = %q, want ollama", cfg.Analysis.Provider)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"driver", "storage:\n  driver: postgres\n", "storage driver"},
		{"provider", "analysis:\n  provider: gemini\n", "analysis provider"},
		{"pdf format", "ingestion:\n  pdfFormat: png\n", "pdf output format"},
		{"pdf quality", "ingestion:\n  pdfQuality: 0\n", "pdfQuality"},
		{"correction cap", "history:\n  correctionCap: 0\n", "correctionCap"},
		{"focus scale", "overlay:\n  focusScale: 0.5\n", "focusScale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadFile() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile() error = nil for missing explicit file")
	}
}
