package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	AI       AIConfig
	Workflow WorkflowConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           int
	Password       string
	DB             int
	SnapshotTTLSec int
}

type AIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	Workers     int
	QueueSize   int
}

// WorkflowConfig carries the methodology policy knobs: how much credit an
// audited skip earns and below which confidence a positive verdict warns.
type WorkflowConfig struct {
	SkipCredit          float64
	ConfidenceWarnBelow float64
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
	viper.AddConfigPath("/etc/roofscope")

	viper.SetEnvPrefix("ROOFSCOPE")
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

	if config.Workflow.SkipCredit < 0 || config.Workflow.SkipCredit > 1 {
		return nil, fmt.Errorf("workflow.skipCredit must be in [0,1], got %v", config.Workflow.SkipCredit)
	}
	if config.Workflow.ConfidenceWarnBelow < 0 || config.Workflow.ConfidenceWarnBelow > 1 {
		return nil, fmt.Errorf("workflow.confidenceWarnBelow must be in [0,1], got %v", config.Workflow.ConfidenceWarnBelow)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/roofscope.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.snapshotTTLSec", 300)

	viper.SetDefault("ai.model", "gpt-4-vision-preview")
	viper.SetDefault("ai.temperature", 0.1)
	viper.SetDefault("ai.maxTokens", 600)
	viper.SetDefault("ai.timeoutSec", 60)
	viper.SetDefault("ai.workers", 4)
	viper.SetDefault("ai.queueSize", 256)

	viper.SetDefault("workflow.skipCredit", 0.5)
	viper.SetDefault("workflow.confidenceWarnBelow", 0.6)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
