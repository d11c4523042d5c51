// Package config loads and holds the application configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Conf is the global configuration, populated by Init.
var Conf Config

// Config mirrors the structure of config.yaml.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Materializer MaterializerConfig `mapstructure:"materializer"`
	DRS          DRSConfig          `mapstructure:"drs"`
	Stream       StreamConfig       `mapstructure:"stream"`
	MinIO        MinIOConfig        `mapstructure:"minio"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig groups every datastore connection.
type DatabaseConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MongoConfig holds the document store connection settings.
type MongoConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

// RedisConfig holds the task status store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// JWTConfig holds the access-grant verification secret for restricted files.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// SyncConfig holds the sync orchestrator settings. APIKey must be configured
// for the sync endpoints to work at all.
type SyncConfig struct {
	APIKey string      `mapstructure:"api_key"`
	DCCs   []DCCConfig `mapstructure:"dccs"`
}

// DCCConfig describes one Data Coordinating Center known to the registry.
type DCCConfig struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	PackageURL  string `mapstructure:"package_url"`
}

// MaterializerConfig points at the external materializer that produces the
// normalized per-entity tables for each DCC.
type MaterializerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DRSConfig holds GA4GH DRS resolution settings.
type DRSConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StreamConfig holds the streaming gateway settings.
type StreamConfig struct {
	UpstreamTimeoutSeconds int `mapstructure:"upstream_timeout_seconds"`
}

// MinIOConfig holds the datapackage archive storage settings; archiving is
// disabled when Endpoint is empty.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// KafkaConfig holds the ingest event producer settings; event emission is
// disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// Init reads the YAML file at configPath into Conf.
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("failed to read config file: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %w", err))
	}
}
