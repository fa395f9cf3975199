package config

import "time"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// StoreConfig selects the backing store and controls how calls against the
// shared store are bounded.
type StoreConfig struct {
	Backend          string        `mapstructure:"backend"`
	Fallback         bool          `mapstructure:"fallback"`
	MirrorWrites     bool          `mapstructure:"mirror_writes"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	FailureThreshold int64         `mapstructure:"failure_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

type RateLimitConfig struct {
	FailOpen   bool                      `mapstructure:"fail_open"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies"`
	Routes     []RouteConfig             `mapstructure:"routes"`
}

// StrategyConfig overrides or defines a named strategy. Unset fields keep the
// preset's setting when the name matches a preset; an explicit false on a
// skip flag switches it off.
type StrategyConfig struct {
	Window                 time.Duration `mapstructure:"window"`
	Max                    int64         `mapstructure:"max"`
	Message                string        `mapstructure:"message"`
	SkipSuccessfulRequests *bool         `mapstructure:"skip_successful_requests"`
	SkipFailedRequests     *bool         `mapstructure:"skip_failed_requests"`
}

type RouteConfig struct {
	Prefix   string `mapstructure:"prefix"`
	Strategy string `mapstructure:"strategy"`
	Key      string `mapstructure:"key"`
}

type CacheConfig struct {
	Prefix            string             `mapstructure:"prefix"`
	DefaultTTL        time.Duration      `mapstructure:"default_ttl"`
	CompressThreshold int                `mapstructure:"compress_threshold"`
	MaxEntries        int                `mapstructure:"max_entries"`
	MaxBytes          int64              `mapstructure:"max_bytes"`
	CleanupInterval   time.Duration      `mapstructure:"cleanup_interval"`
	WarmupConcurrency int                `mapstructure:"warmup_concurrency"`
	Routes            []CacheRouteConfig `mapstructure:"routes"`
}

type CacheRouteConfig struct {
	Path       string        `mapstructure:"path"`
	TTL        time.Duration `mapstructure:"ttl"`
	Tags       []string      `mapstructure:"tags"`
	VaryByUser bool          `mapstructure:"vary_by_user"`
	Compress   bool          `mapstructure:"compress"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
	Users     []UserConfig  `mapstructure:"users"`
}

type UserConfig struct {
	ID           string `mapstructure:"id"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
