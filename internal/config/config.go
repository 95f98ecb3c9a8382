package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Dimensions int    `mapstructure:"dimensions"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// GatewayConfig configures the external model gateway.
type GatewayConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	VisionModel         string        `mapstructure:"vision_model"`
	TopologyModel       string        `mapstructure:"topology_model"`
	LLMModel            string        `mapstructure:"llm_model"`
	EmbeddingBaseURL    string        `mapstructure:"embedding_base_url"`
	EmbeddingAPIKey     string        `mapstructure:"embedding_api_key"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// AnalyzerConfig tunes batching, concurrency and polling for the orchestrator.
type AnalyzerConfig struct {
	Workers            int           `mapstructure:"workers"`              // parallel direct sub-batches
	MaxInflightBatches int           `mapstructure:"max_inflight_batches"` // concurrent gateway batches
	BatchSize          int           `mapstructure:"batch_size"`           // photos per gateway batch
	PhotosPerRequest   int           `mapstructure:"photos_per_request"`   // photos per batch sub-request
	BatchAttempts      int           `mapstructure:"batch_attempts"`       // submit attempts per batch
	MaxPolls           int           `mapstructure:"max_polls"`            // status polls before abandoning
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	Stagger            time.Duration `mapstructure:"stagger"` // per-index direct submit delay
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/photoflow.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "photoflow")
	v.SetDefault("qdrant.dimensions", 1024)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "photos")
	v.SetDefault("gateway.base_url", "https://api.openai.com/v1")
	v.SetDefault("gateway.vision_model", "gpt-4o-mini")
	v.SetDefault("gateway.topology_model", "gpt-4o")
	v.SetDefault("gateway.llm_model", "gpt-4o-mini")
	v.SetDefault("gateway.embedding_model", "jina-embeddings-v3")
	v.SetDefault("gateway.embedding_dimensions", 1024)
	v.SetDefault("gateway.timeout", 60*time.Second)
	v.SetDefault("analyzer.workers", 5)
	v.SetDefault("analyzer.max_inflight_batches", 5)
	v.SetDefault("analyzer.batch_size", 200)
	v.SetDefault("analyzer.photos_per_request", 4)
	v.SetDefault("analyzer.batch_attempts", 3)
	v.SetDefault("analyzer.max_polls", 120)
	v.SetDefault("analyzer.poll_interval", 5*time.Second)
	v.SetDefault("analyzer.stagger", 200*time.Millisecond)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("gateway.api_key", "OPENAI_API_KEY")
	v.BindEnv("gateway.base_url", "OPENAI_BASE_URL")
	v.BindEnv("gateway.embedding_api_key", "JINA_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
