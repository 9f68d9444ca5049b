package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the bare environment variable names used
// in deployments. Each key also answers to the PRICELENS_ prefixed form.
var envBindings = map[string]string{
	"server.host":               "SERVER_HOST",
	"server.port":               "SERVER_PORT",
	"database.url":              "DATABASE_URL",
	"redis.url":                 "REDIS_URL",
	"minio.endpoint":            "MINIO_ENDPOINT",
	"minio.access_key":          "MINIO_ACCESS_KEY",
	"minio.secret_key":          "MINIO_SECRET_KEY",
	"minio.secure":              "MINIO_SECURE",
	"jwt.secret_key":            "JWT_SECRET_KEY",
	"jwt.access_token_expires":  "JWT_ACCESS_TOKEN_EXPIRES",
	"jwt.refresh_token_expires": "JWT_REFRESH_TOKEN_EXPIRES",
	"ocr.server_url":            "OCR_SERVER_URL",
	"ocr.model":                 "OCR_MODEL",
	"ocr.api_key":               "OCR_API_KEY",
	"ocr.worker_count":          "OCR_WORKER_COUNT",
	"vlm.server_url":            "VLM_SERVER_URL",
	"vlm.model":                 "VLM_MODEL",
	"vlm.api_key":               "VLM_API_KEY",
	"llm.server_url":            "LLM_SERVER_URL",
	"llm.model":                 "LLM_MODEL",
	"llm.api_key":               "LLM_API_KEY",
	"render.dpi":                "RENDER_DPI",
	"render.long_edge_px":       "RENDER_LONG_EDGE_PX",
	"log.level":                 "LOG_LEVEL",
	"log.format":                "LOG_FORMAT",
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, env bindings, and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	cm.v.SetDefault("server", defaults.Server)
	cm.v.SetDefault("database", defaults.Database)
	cm.v.SetDefault("redis", defaults.Redis)
	cm.v.SetDefault("minio", defaults.Minio)
	cm.v.SetDefault("jwt", defaults.JWT)
	cm.v.SetDefault("ocr", defaults.OCR)
	cm.v.SetDefault("vlm", defaults.VLM)
	cm.v.SetDefault("llm", defaults.LLM)
	cm.v.SetDefault("render", defaults.Render)
	cm.v.SetDefault("log", defaults.Log)

	// Environment variables with PRICELENS_ prefix, plus the bare names
	// deployments actually set (DATABASE_URL, OCR_WORKER_COUNT, ...).
	cm.v.SetEnvPrefix("PRICELENS")
	cm.v.AutomaticEnv()
	for key, env := range envBindings {
		if err := cm.v.BindEnv(key, "PRICELENS_"+env, env); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.pricelens")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			// An explicit file that does not exist is also acceptable;
			// env-only deployments are the common case.
			if _, statErr := os.Stat(cfgFile); cfgFile == "" || statErr == nil {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// normalize clamps out-of-range values to their defaults.
func (c *Config) normalize() {
	if c.OCR.WorkerCount < 1 || c.OCR.WorkerCount > 16 {
		c.OCR.WorkerCount = 8
	}
	if c.OCR.TimeoutSeconds <= 0 {
		c.OCR.TimeoutSeconds = 120
	}
	if c.OCR.MaxRetries <= 0 {
		c.OCR.MaxRetries = 4
	}
	if c.Render.DPI <= 0 {
		c.Render.DPI = 200
	}
	if c.Render.LongEdgePx <= 0 {
		c.Render.LongEdgePx = 1540
	}
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DatabaseDSN returns the resolved postgres DSN.
func (c *Config) DatabaseDSN() string {
	return ResolveEnvVars(c.Database.URL)
}

// RedisURL returns the resolved redis URL.
func (c *Config) RedisURL() string {
	return ResolveEnvVars(c.Redis.URL)
}

// JWTSecret returns the resolved JWT signing secret.
func (c *Config) JWTSecret() string {
	return ResolveEnvVars(c.JWT.SecretKey)
}

// AccessTokenTTL returns the max accepted access-token age.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpires) * time.Second
}

// OCRTimeout returns the per-request OCR timeout.
func (c *Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCR.TimeoutSeconds) * time.Second
}
