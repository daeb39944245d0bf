package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "silvaplan.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SILVAPLAN_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SILVAPLAN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SILVAPLAN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SILVAPLAN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SILVAPLAN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SILVAPLAN_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.Raster.InternalEPSG, "SILVAPLAN_INTERNAL_EPSG")
	setInt(&cfg.Raster.MaxRetries, "SILVAPLAN_RASTER_MAX_RETRIES")
	setDuration(&cfg.Raster.RetryBase, "SILVAPLAN_RASTER_RETRY_BASE")
	setInt64(&cfg.Raster.WindowCacheMB, "SILVAPLAN_RASTER_CACHE_MB")
	setString(&cfg.Optimizer.Mode, "SILVAPLAN_OPTIMIZER_MODE")
	setString(&cfg.Optimizer.Binary, "SILVAPLAN_OPTIMIZER_BIN")
	setString(&cfg.Optimizer.WorkDir, "SILVAPLAN_OPTIMIZER_WORKDIR")
	setDuration(&cfg.Optimizer.Timeout, "SILVAPLAN_OPTIMIZER_TIMEOUT")
	setString(&cfg.Optimizer.RPCURL, "SILVAPLAN_OPTIMIZER_RPC_URL")
	setString(&cfg.SMTP.Host, "SILVAPLAN_SMTP_HOST")
	setInt(&cfg.SMTP.Port, "SILVAPLAN_SMTP_PORT")
	setString(&cfg.SMTP.From, "SILVAPLAN_SMTP_FROM")
	setString(&cfg.SMTP.Password, "SILVAPLAN_SMTP_PASSWORD")
	setInt(&cfg.Workflow.MaxParallel, "SILVAPLAN_WORKFLOW_MAX_PARALLEL")
	setDuration(&cfg.Workflow.TaskTimeout, "SILVAPLAN_WORKFLOW_TASK_TIMEOUT")
	setString(&cfg.Logging.Level, "SILVAPLAN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SILVAPLAN_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "SILVAPLAN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SILVAPLAN_BREAKER_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Raster.InternalEPSG == 0 {
		return errors.New("raster.internal_epsg is required")
	}
	if cfg.Raster.MaxRetries < 0 {
		return errors.New("raster.max_retries must be >= 0")
	}
	switch cfg.Optimizer.Mode {
	case "subprocess":
		if cfg.Optimizer.Binary == "" {
			return errors.New("optimizer.binary is required in subprocess mode")
		}
	case "rpc":
		if cfg.Optimizer.RPCURL == "" {
			return errors.New("optimizer.rpc_url is required in rpc mode")
		}
	default:
		return fmt.Errorf("optimizer.mode must be subprocess or rpc, got %q", cfg.Optimizer.Mode)
	}
	if cfg.Optimizer.Timeout <= 0 {
		return errors.New("optimizer.timeout must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
