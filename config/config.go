package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the curation service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Curation CurationConfig `mapstructure:"curation"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig groups backing-store settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the primary database. URL wins over the
// individual fields when set.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles the Postgres connection string.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the dashboard cache / sweep lock store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client; empty when unconfigured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// CurationConfig tunes the editorial engine.
type CurationConfig struct {
	// IntegritySchedule is "@daily", "@hourly" or a 5-field cron expression
	// controlling the periodic integrity sweep.
	IntegritySchedule string `mapstructure:"integrity_schedule"`
	// DashboardCacheTTL bounds staleness of redis-cached dashboard reads.
	DashboardCacheTTL time.Duration `mapstructure:"dashboard_cache_ttl"`
	// SweepLockTTL bounds how long one instance holds the sweep lock.
	SweepLockTTL time.Duration `mapstructure:"sweep_lock_ttl"`
}

// LoadConfig reads configuration from file (optional) and CURATOR_*
// environment variables, applying defaults for everything else.
func LoadConfig(path string) *Config {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("curator")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("curation.integrity_schedule", "@hourly")
	v.SetDefault("curation.dashboard_cache_ttl", 30*time.Second)
	v.SetDefault("curation.sweep_lock_ttl", 2*time.Minute)

	_ = v.ReadInConfig()

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
