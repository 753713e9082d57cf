package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Registry RegistryConfig
	Scraper  ScraperConfig
	Snapshot SnapshotConfig
	Neo4j    Neo4jConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type RegistryConfig struct {
	BaseURL    string
	Token      string
	PageSize   int
	TimeoutSec int
}

type ScraperConfig struct {
	Concurrency int
	MaxRecords  int
	MaxRetries  int
}

type SnapshotConfig struct {
	Dir        string
	KeepLatest int
}

type Neo4jConfig struct {
	URI       string
	Username  string
	Password  string
	Database  string
	BatchSize int
	LoadMode  string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type LedgerConfig struct {
	Path string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lineage")

	viper.SetEnvPrefix("LINEAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("registry.baseURL", "https://huggingface.co")
	viper.SetDefault("registry.pageSize", 100)
	viper.SetDefault("registry.timeoutSec", 15)

	viper.SetDefault("scraper.concurrency", 8)
	viper.SetDefault("scraper.maxRecords", 0)
	viper.SetDefault("scraper.maxRetries", 4)

	viper.SetDefault("snapshot.dir", "./data/snapshots")
	viper.SetDefault("snapshot.keepLatest", 5)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")
	viper.SetDefault("neo4j.batchSize", 500)
	viper.SetDefault("neo4j.loadMode", "replace")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 86400)

	viper.SetDefault("ledger.path", "./data/lineage.db")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", ":9090")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
