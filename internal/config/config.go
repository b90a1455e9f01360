package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Groq      GroqConfig      `yaml:"groq" mapstructure:"groq"`
	Ollama    OllamaConfig    `yaml:"ollama" mapstructure:"ollama"`
	Upload    UploadConfig    `yaml:"upload" mapstructure:"upload"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// StorageConfig configures the on-disk document directories.
type StorageConfig struct {
	UploadDir    string `yaml:"upload_dir" mapstructure:"upload_dir"`
	ExtractedDir string `yaml:"extracted_dir" mapstructure:"extracted_dir"`
}

// LLMConfig selects the active generation provider and its shared settings.
type LLMConfig struct {
	Provider       string  `yaml:"provider" mapstructure:"provider"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerMin int     `yaml:"requests_per_min" mapstructure:"requests_per_min"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GroqConfig holds Groq API settings.
type GroqConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// OllamaConfig holds settings for a self-hosted Ollama instance.
type OllamaConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// UploadConfig bounds incoming file sizes.
type UploadConfig struct {
	MaxDocumentBytes int64 `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
	MaxMarketBytes   int64 `yaml:"max_market_bytes" mapstructure:"max_market_bytes"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FILING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed aliases kept for parity with the deployment scripts.
	_ = v.BindEnv("llm.provider", "FILING_LLM_PROVIDER", "LLM_PROVIDER")
	_ = v.BindEnv("anthropic.key", "FILING_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("groq.key", "FILING_GROQ_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("ollama.host", "FILING_OLLAMA_HOST", "OLLAMA_HOST")
	_ = v.BindEnv("ollama.model", "FILING_OLLAMA_MODEL", "OLLAMA_MODEL")

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "filing_analyzer.db")
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.extracted_dir", "data/extracted")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.requests_per_min", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("ollama.host", "http://localhost:11434")
	v.SetDefault("ollama.model", "llama3")
	v.SetDefault("ollama.timeout_secs", 120)
	v.SetDefault("upload.max_document_bytes", 50*1024*1024)
	v.SetDefault("upload.max_market_bytes", 20*1024*1024)
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
