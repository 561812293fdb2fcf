package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int
	Host         string
	DataDir      string
	DockerHost   string // "" = DOCKER_HOST env or the default socket
	EngineMode   string // "api" or "cli"
	LogTail      int    // default line count for log requests
	StatsWorkers int64  // concurrent stat samples for the all-containers poll
	LogLevel     slog.Level
	JWTTTL       time.Duration
	NoAuth       bool // Skip authentication (all endpoints open)
	Pprof        bool // Enable /debug/pprof/ endpoints
}

// fileConfig mirrors Config for the optional YAML file. Only keys present in
// the file are applied.
type fileConfig struct {
	Port         *int    `yaml:"port"`
	Host         *string `yaml:"host"`
	DataDir      *string `yaml:"data_dir"`
	DockerHost   *string `yaml:"docker_host"`
	EngineMode   *string `yaml:"engine_mode"`
	LogTail      *int    `yaml:"log_tail"`
	StatsWorkers *int64  `yaml:"stats_workers"`
	LogLevel     *string `yaml:"log_level"`
	JWTTTL       *string `yaml:"jwt_ttl"`
	NoAuth       *bool   `yaml:"no_auth"`
	Pprof        *bool   `yaml:"pprof"`
}

// Parse resolves the configuration. Precedence: explicit flags, then RYKARD_*
// environment variables, then the YAML file, then built-in defaults.
func Parse() (*Config, error) {
	cfg := &Config{
		Port:         5810,
		Host:         "127.0.0.1",
		DataDir:      "./data",
		EngineMode:   "api",
		LogTail:      100,
		StatsWorkers: 8,
		LogLevel:     slog.LevelInfo,
		JWTTTL:       30 * 24 * time.Hour,
	}

	var (
		configPath string
		logLevel   string
		jwtTTL     string
	)
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "HTTP bind address")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Path to data directory (bbolt DB)")
	flag.StringVar(&cfg.DockerHost, "docker-host", "", "Docker host URI (default: DOCKER_HOST or the local socket)")
	flag.StringVar(&cfg.EngineMode, "engine-mode", cfg.EngineMode, "Engine access mode (api, cli)")
	flag.IntVar(&cfg.LogTail, "log-tail", cfg.LogTail, "Default number of log lines per request")
	flag.Int64Var(&cfg.StatsWorkers, "stats-workers", cfg.StatsWorkers, "Concurrent containers sampled by the stats poll")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&jwtTTL, "jwt-ttl", "", "Session token lifetime (Go duration, e.g. 720h)")
	flag.BoolVar(&cfg.NoAuth, "no-auth", false, "Disable authentication (all endpoints open)")
	flag.BoolVar(&cfg.Pprof, "pprof", false, "Enable /debug/pprof/ endpoints")
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	// Flags were parsed first only to learn which ones were set explicitly;
	// rebuild from the bottom of the precedence order.
	fromFlags := *cfg
	flagLogLevel, flagJWTTTL := logLevel, jwtTTL

	if configPath == "" {
		configPath = os.Getenv("RYKARD_CONFIG")
	}
	if configPath != "" {
		if err := applyFile(cfg, configPath, &logLevel, &jwtTTL); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg, &logLevel, &jwtTTL)

	// Explicit flags win over everything.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = fromFlags.Port
		case "host":
			cfg.Host = fromFlags.Host
		case "data-dir":
			cfg.DataDir = fromFlags.DataDir
		case "docker-host":
			cfg.DockerHost = fromFlags.DockerHost
		case "engine-mode":
			cfg.EngineMode = fromFlags.EngineMode
		case "log-tail":
			cfg.LogTail = fromFlags.LogTail
		case "stats-workers":
			cfg.StatsWorkers = fromFlags.StatsWorkers
		case "log-level":
			logLevel = flagLogLevel
		case "jwt-ttl":
			jwtTTL = flagJWTTTL
		case "no-auth":
			cfg.NoAuth = fromFlags.NoAuth
		case "pprof":
			cfg.Pprof = fromFlags.Pprof
		}
	})

	if logLevel != "" {
		cfg.LogLevel = parseLogLevel(logLevel)
	}
	if jwtTTL != "" {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid jwt-ttl %q: %w", jwtTTL, err)
		}
		cfg.JWTTTL = d
	}

	if cfg.EngineMode != "api" && cfg.EngineMode != "cli" {
		return nil, fmt.Errorf("invalid engine-mode %q (want api or cli)", cfg.EngineMode)
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string, logLevel, jwtTTL *string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	if fc.DataDir != nil {
		cfg.DataDir = *fc.DataDir
	}
	if fc.DockerHost != nil {
		cfg.DockerHost = *fc.DockerHost
	}
	if fc.EngineMode != nil {
		cfg.EngineMode = *fc.EngineMode
	}
	if fc.LogTail != nil {
		cfg.LogTail = *fc.LogTail
	}
	if fc.StatsWorkers != nil {
		cfg.StatsWorkers = *fc.StatsWorkers
	}
	if fc.LogLevel != nil {
		*logLevel = *fc.LogLevel
	}
	if fc.JWTTTL != nil {
		*jwtTTL = *fc.JWTTTL
	}
	if fc.NoAuth != nil {
		cfg.NoAuth = *fc.NoAuth
	}
	if fc.Pprof != nil {
		cfg.Pprof = *fc.Pprof
	}
	return nil
}

func applyEnv(cfg *Config, logLevel, jwtTTL *string) {
	if v := os.Getenv("RYKARD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("RYKARD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RYKARD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RYKARD_DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}
	if v := os.Getenv("RYKARD_ENGINE_MODE"); v != "" {
		cfg.EngineMode = v
	}
	if v := os.Getenv("RYKARD_LOG_TAIL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogTail = n
		}
	}
	if v := os.Getenv("RYKARD_STATS_WORKERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.StatsWorkers = n
		}
	}
	if v := os.Getenv("RYKARD_LOG_LEVEL"); v != "" {
		*logLevel = v
	}
	if v := os.Getenv("RYKARD_JWT_TTL"); v != "" {
		*jwtTTL = v
	}
	if v := os.Getenv("RYKARD_NO_AUTH"); v == "1" || v == "true" {
		cfg.NoAuth = true
	}
	if v := os.Getenv("RYKARD_PPROF"); v == "1" || v == "true" {
		cfg.Pprof = true
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
