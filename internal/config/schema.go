package config

// Config holds pricelens configuration.
// Values come from an optional YAML file and environment variables; secrets
// may use ${ENV_VAR} syntax and are resolved at read time.
type Config struct {
	Server   ServerCfg   `mapstructure:"server" yaml:"server"`
	Database DatabaseCfg `mapstructure:"database" yaml:"database"`
	Redis    RedisCfg    `mapstructure:"redis" yaml:"redis"`
	Minio    MinioCfg    `mapstructure:"minio" yaml:"minio"`
	JWT      JWTCfg      `mapstructure:"jwt" yaml:"jwt"`
	OCR      OCRCfg      `mapstructure:"ocr" yaml:"ocr"`
	VLM      ChatCfg     `mapstructure:"vlm" yaml:"vlm"`
	LLM      ChatCfg     `mapstructure:"llm" yaml:"llm"`
	Render   RenderCfg   `mapstructure:"render" yaml:"render"`
	Log      LogCfg      `mapstructure:"log" yaml:"log"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// DatabaseCfg configures the relational store.
type DatabaseCfg struct {
	URL string `mapstructure:"url" yaml:"url"` // postgres DSN (supports ${ENV_VAR} syntax)
}

// RedisCfg configures the token-blacklist cache.
type RedisCfg struct {
	URL string `mapstructure:"url" yaml:"url"` // redis:// URL (supports ${ENV_VAR} syntax)
}

// MinioCfg configures the object store.
type MinioCfg struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"` // supports ${ENV_VAR} syntax
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"` // supports ${ENV_VAR} syntax
	Secure    bool   `mapstructure:"secure" yaml:"secure"`
}

// JWTCfg configures access-token verification.
// Token lifetimes are in seconds; issuance happens in the identity service,
// these only bound what this service accepts.
type JWTCfg struct {
	SecretKey           string `mapstructure:"secret_key" yaml:"secret_key"` // supports ${ENV_VAR} syntax
	AccessTokenExpires  int    `mapstructure:"access_token_expires" yaml:"access_token_expires"`
	RefreshTokenExpires int    `mapstructure:"refresh_token_expires" yaml:"refresh_token_expires"`
}

// OCRCfg configures the page OCR backend.
type OCRCfg struct {
	ServerURL      string `mapstructure:"server_url" yaml:"server_url"` // OpenAI-compatible base URL
	Model          string `mapstructure:"model" yaml:"model"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	WorkerCount    int    `mapstructure:"worker_count" yaml:"worker_count"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// ChatCfg configures a chat-completions backend (VLM or LLM).
type ChatCfg struct {
	ServerURL      string `mapstructure:"server_url" yaml:"server_url"` // OpenAI-compatible base URL
	Model          string `mapstructure:"model" yaml:"model"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RenderCfg configures PDF page rasterization.
type RenderCfg struct {
	DPI        int `mapstructure:"dpi" yaml:"dpi"`
	LongEdgePx int `mapstructure:"long_edge_px" yaml:"long_edge_px"`
}

// LogCfg configures structured logging.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Database: DatabaseCfg{
			URL: "${DATABASE_URL}",
		},
		Redis: RedisCfg{
			URL: "${REDIS_URL}",
		},
		Minio: MinioCfg{
			Endpoint:  "localhost:9000",
			AccessKey: "${MINIO_ACCESS_KEY}",
			SecretKey: "${MINIO_SECRET_KEY}",
			Secure:    false,
		},
		JWT: JWTCfg{
			SecretKey:           "${JWT_SECRET_KEY}",
			AccessTokenExpires:  3600,
			RefreshTokenExpires: 30 * 24 * 3600,
		},
		OCR: OCRCfg{
			ServerURL:      "http://localhost:8080/v1",
			Model:          "ocr",
			APIKey:         "${OCR_API_KEY}",
			WorkerCount:    8,
			TimeoutSeconds: 120,
			MaxRetries:     4,
		},
		VLM: ChatCfg{
			ServerURL:      "http://localhost:8081/v1",
			Model:          "vlm",
			APIKey:         "${VLM_API_KEY}",
			TimeoutSeconds: 180,
		},
		LLM: ChatCfg{
			ServerURL:      "http://localhost:8082/v1",
			Model:          "llm",
			APIKey:         "${LLM_API_KEY}",
			TimeoutSeconds: 180,
		},
		Render: RenderCfg{
			DPI:        200,
			LongEdgePx: 1540,
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}
