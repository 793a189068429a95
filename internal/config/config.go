package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ZENDESK_SYNC_SERVER_PORT or ZENDESK_SYNC_SYNC_ENABLED.
const EnvPrefix = "ZENDESK_SYNC"

// Config holds the static application configuration. The sync.* section is
// read live through a Provider instead.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Zendesk  ZendeskConfig  `mapstructure:"zendesk"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"` // gin mode: debug, release, test
	APIKey string `mapstructure:"api_key"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the forum store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or mysql
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig configures the delayed job queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	QueueKey string `mapstructure:"queue_key"`
}

// WorkerConfig configures the job worker pool.
type WorkerConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	BatchSize      int `mapstructure:"batch_size"`
	JobTimeoutSec  int `mapstructure:"job_timeout_seconds"`
}

// LoggerConfig configures zap.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ZendeskConfig configures the HTTP client for the ticketing service.
type ZendeskConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

var (
	v     *viper.Viper
	vOnce sync.Once
)

// init loads environment variables from .env file
func init() {
	// Try to load from project root first
	err := godotenv.Load()
	if err != nil {
		// Try loading from parent directory (assuming we're in a subdirectory)
		err = godotenv.Load("../.env")
		if err != nil {
			// Try one more level up
			err = godotenv.Load("../../.env")
			if err != nil {
				log.Println("No .env file found or error loading it. Using environment variables or defaults.")
			} else {
				log.Println("Loaded configuration from ../../.env file")
			}
		} else {
			log.Println("Loaded configuration from ../.env file")
		}
	} else {
		log.Println("Loaded configuration from .env file")
	}
}

// GetViper returns the process-wide viper instance.
func GetViper() *viper.Viper {
	vOnce.Do(func() {
		v = viper.New()
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		SetDefaults(v)
	})
	return v
}

// Load reads the optional YAML file at path (or ./configs/config.yaml when
// path is empty) into the shared viper instance and decodes the static part.
func Load(path string) (*Config, error) {
	vp := GetViper()
	if path != "" {
		vp.SetConfigFile(path)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./configs")
		vp.AddConfigPath("../configs")
	}

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("No config file found. Using environment variables or defaults.")
	}

	return Decode(vp)
}

// Decode unmarshals the static configuration from vp.
func Decode(vp *viper.Viper) (*Config, error) {
	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "mysql" {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	return &cfg, nil
}

// SetDefaults registers default values on vp.
func SetDefaults(vp *viper.Viper) {
	vp.SetDefault("server.host", "0.0.0.0")
	vp.SetDefault("server.port", 8080)
	vp.SetDefault("server.mode", "release")
	vp.SetDefault("server.api_key", "")

	vp.SetDefault("database.driver", "sqlite")
	vp.SetDefault("database.dsn", "forum.db")

	vp.SetDefault("redis.addr", "localhost:6379")
	vp.SetDefault("redis.password", "")
	vp.SetDefault("redis.db", 0)
	vp.SetDefault("redis.queue_key", "zendesk_sync:jobs")

	vp.SetDefault("worker.concurrency", 4)
	vp.SetDefault("worker.poll_interval_ms", 1000)
	vp.SetDefault("worker.batch_size", 16)
	vp.SetDefault("worker.job_timeout_seconds", 120)

	vp.SetDefault("logger.level", "info")
	vp.SetDefault("logger.format", "json")

	vp.SetDefault("zendesk.timeout_seconds", 30)

	vp.SetDefault("sync.enabled", false)
	vp.SetDefault("sync.sync_comments_from_remote", false)
	vp.SetDefault("sync.all_categories", false)
	vp.SetDefault("sync.enabled_categories", "")
	vp.SetDefault("sync.tags", "discourse")
	vp.SetDefault("sync.webhook_token", "")
	vp.SetDefault("sync.signature_regex", "")
	vp.SetDefault("sync.push_only_author_posts", false)
	vp.SetDefault("sync.push_all_posts", true)
	vp.SetDefault("sync.append_attachments", false)
	vp.SetDefault("sync.miscategorization_notice", "This ticket's topic was moved out of a synced category.")
	vp.SetDefault("sync.jobs_email", "")
	vp.SetDefault("sync.jobs_api_token", "")
	vp.SetDefault("sync.remote_url", "https://your-url.zendesk.com/api/v2")
	vp.SetDefault("sync.hostname", "localhost")
	vp.SetDefault("sync.sync_tag", "discourse_zendesk_plugin")
}
