package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ADMISSION"

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := loadConfigFile(v); err != nil {
		return nil, err
	}

	if err := loadDotEnvFile(v); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v)

	return decode(v)
}

// LoadFile reads configuration from an explicit path, applying the same
// defaults and environment overrides as Load.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	loadEnvironmentVariables(v)

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.key_prefix", "erp:")
	v.SetDefault("redis.dial_timeout", 2*time.Second)

	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.fallback", true)
	v.SetDefault("store.mirror_writes", true)
	v.SetDefault("store.operation_timeout", 250*time.Millisecond)
	v.SetDefault("store.max_retries", 2)
	v.SetDefault("store.failure_threshold", 5)
	v.SetDefault("store.open_duration", 10*time.Second)
	v.SetDefault("store.cleanup_interval", time.Minute)

	v.SetDefault("rate_limit.fail_open", true)
	v.SetDefault("rate_limit.routes", []map[string]interface{}{
		{"prefix": "/api/auth", "strategy": "strict", "key": "ip_username"},
		{"prefix": "/api/search", "strategy": "burst", "key": "user"},
		{"prefix": "/api/reports/export", "strategy": "burst", "key": "user"},
		{"prefix": "/api/public", "strategy": "generous", "key": "ip"},
		{"prefix": "/api", "strategy": "standard", "key": "user"},
	})

	v.SetDefault("cache.prefix", "cache:")
	v.SetDefault("cache.default_ttl", 5*time.Minute)
	v.SetDefault("cache.compress_threshold", 1024)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.max_bytes", 64<<20)
	v.SetDefault("cache.cleanup_interval", 5*time.Minute)
	v.SetDefault("cache.warmup_concurrency", 8)
	v.SetDefault("cache.routes", []map[string]interface{}{
		{"path": "/api/products", "ttl": "2m", "tags": []string{"product"}},
	})

	v.SetDefault("database.dsn", "file:erp.db?cache=shared")

	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.issuer", "erp-admission")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func loadConfigFile(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func loadDotEnvFile(v *viper.Viper) error {
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to read .env file: %w", err)
		}
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"SERVER_PORT",
		"REDIS_HOST",
		"REDIS_PORT",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"STORE_BACKEND",
		"DATABASE_DSN",
		"AUTH_JWT_SECRET",
		"LOG_LEVEL",
	} {
		if val := os.Getenv(envPrefix + "_" + key); val != "" {
			section, field, _ := strings.Cut(strings.ToLower(key), "_")
			v.Set(section+"."+field, val)
		}
	}
}
