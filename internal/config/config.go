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
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	DocAI     DocAIConfig     `yaml:"docai" mapstructure:"docai"`
	Convert   ConvertConfig   `yaml:"convert" mapstructure:"convert"`
	Chunk     ChunkConfig     `yaml:"chunk" mapstructure:"chunk"`
	FTP       FTPConfig       `yaml:"ftp" mapstructure:"ftp"`
	Thesaurus ThesaurusConfig `yaml:"thesaurus" mapstructure:"thesaurus"`
	Refdata   RefdataConfig   `yaml:"refdata" mapstructure:"refdata"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the on-disk cache registry.
type CacheConfig struct {
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DocAIConfig holds the document conversion service settings.
type DocAIConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	Endpoint          string `yaml:"endpoint" mapstructure:"endpoint"`
	MaxPagesPerCall   int    `yaml:"max_pages_per_call" mapstructure:"max_pages_per_call"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ConvertConfig configures page-range batching of conversion calls.
type ConvertConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	BorderPages int `yaml:"border_pages" mapstructure:"border_pages"`
}

// ChunkConfig configures chunk extraction.
type ChunkConfig struct {
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FTPConfig holds the scan archive FTP settings.
type FTPConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ThesaurusConfig locates the ISTAT comuni shapefile.
type ThesaurusConfig struct {
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
}

// RefdataConfig locates the intervention reference spreadsheet.
type RefdataConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ServerConfig configures the read-only HTTP server.
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
	v.SetEnvPrefix("ARCHEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.base_dir", "cache")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "archeo.db")
	v.SetDefault("docai.model", "pixtral-large-latest")
	v.SetDefault("docai.max_pages_per_call", 150)
	v.SetDefault("docai.requests_per_minute", 0)
	v.SetDefault("docai.timeout_secs", 300)
	v.SetDefault("convert.batch_size", 20)
	v.SetDefault("convert.border_pages", 0)
	v.SetDefault("chunk.max_tokens", 512)
	v.SetDefault("ftp.user", "anonymous")
	v.SetDefault("ftp.password", "anonymous")
	v.SetDefault("ftp.timeout_secs", 30)
	v.SetDefault("ftp.concurrency", 4)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("server.port", 8080)
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

// Validate checks the fields required by the given command mode. Shared
// bounds are checked in every mode so a bad config fails at startup rather
// than mid run.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "ingest":
		if c.DocAI.Key == "" {
			missing = append(missing, "docai.key is required")
		}
	case "fetch":
		if c.FTP.Host == "" {
			missing = append(missing, "ftp.host is required")
		}
	case "extract":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	case "serve":
		// No credentials needed for the read-only server.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}
	if c.Server.Port <= 0 {
		missing = append(missing, "server.port must be > 0")
	}
	if c.Convert.BatchSize < 1 {
		missing = append(missing, "convert.batch_size must be >= 1")
	}
	if c.Chunk.MaxTokens < 1 {
		missing = append(missing, "chunk.max_tokens must be >= 1")
	}
	if c.FTP.Concurrency < 1 || c.FTP.Concurrency > 32 {
		missing = append(missing, "ftp.concurrency must be between 1 and 32")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid for mode %q:\n  - %s", mode, strings.Join(missing, "\n  - "))
	}
	return nil
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
