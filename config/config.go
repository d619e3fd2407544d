package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the support copilot
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Router    RouterConfig    `mapstructure:"router"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// LLMRoutingConfig defines which model serves each task
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // intent routing
	Chat           string `mapstructure:"chat"`           // answer generation
	Embedding      string `mapstructure:"embedding"`      // semantic vectors
}

// KnowledgeConfig controls knowledge-base loading and chunking.
type KnowledgeConfig struct {
	SourcePath   string `mapstructure:"source_path"`
	ChunkSize    int    `mapstructure:"chunk_size"`    // max tokens per chunk
	ChunkOverlap int    `mapstructure:"chunk_overlap"` // tokens carried across boundaries
	ReindexCron  string `mapstructure:"reindex_cron"`  // empty disables scheduled rebuilds
}

func (k KnowledgeConfig) Validate() error {
	if k.ChunkSize <= 0 {
		return fmt.Errorf("knowledge.chunk_size must be > 0")
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// RetrievalConfig exposes the hybrid scoring knobs.
type RetrievalConfig struct {
	TopK           int     `mapstructure:"top_k"`
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	MaxSources     int     `mapstructure:"max_sources"`
}

func (r RetrievalConfig) Validate() error {
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if r.LexicalWeight < 0 || r.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must be >= 0")
	}
	if r.LexicalWeight+r.SemanticWeight == 0 {
		return fmt.Errorf("at least one retrieval weight must be > 0")
	}
	return nil
}

// RouterConfig tunes the intent classifier fallback behaviour.
type RouterConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	HistoryWindow int     `mapstructure:"history_window"` // recent turns given to the classifier
}

func (r RouterConfig) Validate() error {
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("router.min_confidence must be in [0,1]")
	}
	return nil
}

// StorageConfig contains all storage backends
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("knowledge.chunk_size", 256)
	viper.SetDefault("knowledge.chunk_overlap", 32)
	viper.SetDefault("retrieval.top_k", 7)
	// Equal weights by default; 0.7 semantic / 0.3 lexical is a reasonable
	// alternative for documentation-heavy corpora.
	viper.SetDefault("retrieval.lexical_weight", 0.5)
	viper.SetDefault("retrieval.semantic_weight", 0.5)
	viper.SetDefault("retrieval.max_sources", 3)
	viper.SetDefault("router.min_confidence", 0.55)
	viper.SetDefault("router.history_window", 4)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DESKPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Knowledge.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	if err := config.Router.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
