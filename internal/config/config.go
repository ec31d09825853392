package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// Engine kinds accepted by ANALYSIS_ENGINE.
const (
	EngineProcess = "process"
	EngineBuiltin = "builtin"
)

// Config holds all application configuration.
// Values start from defaults, are overlaid by an optional TOML file and
// finally by environment variables.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage
	DatabasePath string

	// Analysis engine
	AnalysisEngine         string
	AnalysisExecutable     string
	AnalysisScript         string
	AnalysisTimeout        time.Duration
	AnalysisMaxConcurrency int

	// Batch scheduler
	InsightSchedule  string
	SchedulerEnabled bool

	// Cache
	AggregationCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret string
}

// fileConfig mirrors the TOML layout. Durations are Go duration strings.
type fileConfig struct {
	Server struct {
		Port     int    `toml:"port"`
		LogLevel string `toml:"log_level"`
	} `toml:"server"`
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	Analysis struct {
		Engine         string `toml:"engine"`
		Executable     string `toml:"executable"`
		Script         string `toml:"script"`
		Timeout        string `toml:"timeout"`
		MaxConcurrency int    `toml:"max_concurrency"`
	} `toml:"analysis"`
	Scheduler struct {
		Schedule string `toml:"schedule"`
		Enabled  *bool  `toml:"enabled"`
	} `toml:"scheduler"`
	Cache struct {
		AggregationTTL string `toml:"aggregation_ttl"`
	} `toml:"cache"`
	Observability struct {
		OTLPEndpoint string `toml:"otlp_endpoint"`
	} `toml:"observability"`
	Auth struct {
		JWTSecret string `toml:"jwt_secret"`
	} `toml:"auth"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",

		DatabasePath: "fintrack.db",

		// The process engine needs an external program; see ANALYSIS_EXECUTABLE.
		AnalysisEngine:         EngineBuiltin,
		AnalysisTimeout:        60 * time.Second,
		AnalysisMaxConcurrency: 1,

		// 01:00 on the first day of every month.
		InsightSchedule:  "0 0 1 1 * *",
		SchedulerEnabled: true,

		// Off: breakdowns are read fresh unless a TTL is configured.
		AggregationCacheTTL: 0,
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.mergeEnv()

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if fc.Server.Port != 0 {
		c.Port = fc.Server.Port
	}
	c.LogLevel = orString(fc.Server.LogLevel, c.LogLevel)
	c.DatabasePath = orString(fc.Database.Path, c.DatabasePath)

	c.AnalysisEngine = orString(fc.Analysis.Engine, c.AnalysisEngine)
	c.AnalysisExecutable = orString(fc.Analysis.Executable, c.AnalysisExecutable)
	c.AnalysisScript = orString(fc.Analysis.Script, c.AnalysisScript)
	if fc.Analysis.MaxConcurrency != 0 {
		c.AnalysisMaxConcurrency = fc.Analysis.MaxConcurrency
	}
	if fc.Analysis.Timeout != "" {
		d, err := time.ParseDuration(fc.Analysis.Timeout)
		if err != nil {
			return fmt.Errorf("parsing config: analysis.timeout: %w", err)
		}
		c.AnalysisTimeout = d
	}

	c.InsightSchedule = orString(fc.Scheduler.Schedule, c.InsightSchedule)
	if fc.Scheduler.Enabled != nil {
		c.SchedulerEnabled = *fc.Scheduler.Enabled
	}

	if fc.Cache.AggregationTTL != "" {
		d, err := time.ParseDuration(fc.Cache.AggregationTTL)
		if err != nil {
			return fmt.Errorf("parsing config: cache.aggregation_ttl: %w", err)
		}
		c.AggregationCacheTTL = d
	}

	c.OTLPEndpoint = orString(fc.Observability.OTLPEndpoint, c.OTLPEndpoint)
	c.JWTSecret = orString(fc.Auth.JWTSecret, c.JWTSecret)
	return nil
}

func (c *Config) mergeEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)

	c.AnalysisEngine = getEnv("ANALYSIS_ENGINE", c.AnalysisEngine)
	c.AnalysisExecutable = getEnv("ANALYSIS_EXECUTABLE", c.AnalysisExecutable)
	c.AnalysisScript = getEnv("ANALYSIS_SCRIPT", c.AnalysisScript)
	c.AnalysisTimeout = getEnvDuration("ANALYSIS_TIMEOUT", c.AnalysisTimeout)
	c.AnalysisMaxConcurrency = getEnvInt("ANALYSIS_MAX_CONCURRENCY", c.AnalysisMaxConcurrency)

	c.InsightSchedule = getEnv("INSIGHT_SCHEDULE", c.InsightSchedule)
	c.SchedulerEnabled = getEnvBool("SCHEDULER_ENABLED", c.SchedulerEnabled)

	c.AggregationCacheTTL = getEnvDuration("AGGREGATION_CACHE_TTL", c.AggregationCacheTTL)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.AnalysisEngine {
	case EngineProcess:
		if c.AnalysisExecutable == "" {
			errs = append(errs, errors.New("analysis executable is required for the process engine"))
		}
	case EngineBuiltin:
	default:
		errs = append(errs, fmt.Errorf("unknown analysis engine %q", c.AnalysisEngine))
	}
	if c.AnalysisTimeout <= 0 {
		errs = append(errs, errors.New("analysis timeout must be positive"))
	}
	if c.AggregationCacheTTL < 0 {
		errs = append(errs, errors.New("aggregation cache ttl must not be negative"))
	}
	if _, err := ScheduleParser.Parse(c.InsightSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid insight schedule %q: %w", c.InsightSchedule, err))
	}

	return errors.Join(errs...)
}

// ScheduleParser parses six-field (seconds first) cron specs and descriptors.
var ScheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
