package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Storage   StorageConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Analysis  AnalysisConfig
	Ingestion IngestionConfig
	History   HistoryConfig
	Account   AccountConfig
	Overlay   OverlayConfig
	RateLimit RateLimitConfig
	Progress  ProgressConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// StorageConfig selects the key-value backend: sqlite, redis or memory.
type StorageConfig struct {
	Driver string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AnalysisConfig struct {
	Provider           string
	Model              string
	APIKey             string
	BaseURL            string
	MaxTokens          int
	ProtocolFile       string
	CorrectionExamples int
}

type IngestionConfig struct {
	PDFScale       float64
	PDFQuality     int
	PDFFormat      string
	MaxDimension   int
	MaxUploadBytes int
}

type HistoryConfig struct {
	CorrectionCap int
	AdminEmail    string
	AdminName     string
	AdminPassword string
}

type AccountConfig struct {
	BaseURL         string
	TimeoutSec      int
	MirrorScans     bool
	SessionTTLHours int
	ResetCodeTTLMin int
}

type OverlayConfig struct {
	FocusScale  float64
	AnimationMs int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	AnalysesPerMinute int
}

type ProgressConfig struct {
	TickMs int
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or from the default search paths
// when path is empty. Environment variables prefixed CARDIOSCAN_ win.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cardioscan")
	}

	v.SetEnvPrefix("CARDIOSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("invalid storage driver %q", c.Storage.Driver)
	}

	switch c.Analysis.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid analysis provider %q", c.Analysis.Provider)
	}

	switch c.Ingestion.PDFFormat {
	case "jpeg", "webp":
	default:
		return fmt.Errorf("invalid pdf output format %q", c.Ingestion.PDFFormat)
	}

	if c.Ingestion.PDFScale <= 0 {
		return fmt.Errorf("ingestion.pdfScale must be positive")
	}
	if c.Ingestion.PDFQuality < 1 || c.Ingestion.PDFQuality > 100 {
		return fmt.Errorf("ingestion.pdfQuality must be within 1..100")
	}
	if c.History.CorrectionCap < 1 {
		return fmt.Errorf("history.correctionCap must be at least 1")
	}
	if c.Analysis.CorrectionExamples < 0 {
		return fmt.Errorf("analysis.correctionExamples must not be negative")
	}
	if c.Account.SessionTTLHours < 1 {
		return fmt.Errorf("account.sessionTTLHours must be at least 1")
	}
	if c.Overlay.FocusScale < 1 {
		return fmt.Errorf("overlay.focusScale must be at least 1")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 26214400)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("sqlite.path", "./data/cardioscan.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("analysis.provider", "openai")
	v.SetDefault("analysis.model", "gpt-4o")
	v.SetDefault("analysis.maxTokens", 4096)
	v.SetDefault("analysis.correctionExamples", 2)

	v.SetDefault("ingestion.pdfScale", 2.5)
	v.SetDefault("ingestion.pdfQuality", 95)
	v.SetDefault("ingestion.pdfFormat", "jpeg")
	v.SetDefault("ingestion.maxDimension", 0)
	v.SetDefault("ingestion.maxUploadBytes", 20971520)

	v.SetDefault("history.correctionCap", 10)
	v.SetDefault("history.adminEmail", "admin@ecg.app")
	v.SetDefault("history.adminName", "Administrator")
	v.SetDefault("history.adminPassword", "admin123")

	v.SetDefault("account.timeoutSec", 30)
	v.SetDefault("account.mirrorScans", false)
	v.SetDefault("account.sessionTTLHours", 24)
	v.SetDefault("account.resetCodeTTLMin", 15)

	v.SetDefault("overlay.focusScale", 3.0)
	v.SetDefault("overlay.animationMs", 400)

	v.SetDefault("rateLimit.requestsPerMinute", 120)
	v.SetDefault("rateLimit.analysesPerMinute", 10)

	v.SetDefault("progress.tickMs", 250)
}
