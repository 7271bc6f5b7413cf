package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable configuration snapshot loaded at process start.
// The live-mutable subset (KillSwitch, CIPublishers) is NOT read
// from this struct at request time — callers go through ReloadCoordinator
// instead, which tracks those two settings against the store.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Identity IdentityConfig `mapstructure:"identity"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	CORS     CORSConfig     `mapstructure:"cors"`
	App      AppConfig      `mapstructure:"app"`
}

// EngineConfig wires the outbound adapter that calls the deployment engine.
type EngineConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	HeaderName  string        `mapstructure:"header_name"`
	HeaderValue string        `mapstructure:"header_value"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ArtifactConfig bounds artifactRef validation: which bucket deployments
// must reference and which URI schemes are accepted.
type ArtifactConfig struct {
	Bucket      string   `mapstructure:"bucket"`
	SchemeAllow []string `mapstructure:"scheme_allow"`
}

// CORSConfig holds the allowed cross-origin request origins.
type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds the Postgres-backed store's connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds the connection settings for the redisstore backend,
// used when database.driver is "redis".
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// IdentityConfig holds JWKS/JWT verification configuration.
type IdentityConfig struct {
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	JWKSURL      string        `mapstructure:"jwks_url"`
	RolesClaim   string        `mapstructure:"roles_claim"`
	RefreshEvery time.Duration `mapstructure:"refresh_every"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PolicyConfig holds the fixed, non-reloadable rate and quota limits.
type PolicyConfig struct {
	DailyDeployQuota         int           `mapstructure:"daily_deploy_quota"`
	DailyRollbackQuota       int           `mapstructure:"daily_rollback_quota"`
	DailyBuildRegisterQuota  int           `mapstructure:"daily_build_register_quota"`
	ConcurrentPerGroup       int           `mapstructure:"concurrent_per_group"`
	RateLimitWindow          time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax             int           `mapstructure:"rate_limit_max"`
	IdempotencyTTL           time.Duration `mapstructure:"idempotency_ttl"`
	ReconcilePollInterval    time.Duration `mapstructure:"reconcile_poll_interval"`
	ReconcileHardTimeout     time.Duration `mapstructure:"reconcile_hard_timeout"`
	LiveSettingsPollInterval time.Duration `mapstructure:"live_settings_poll_interval"`
}

// AppConfig holds process-identity and environment metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoadConfig loads configuration from an optional YAML file plus
// environment variables, validates it, and returns an immutable snapshot.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "dxcp")
	viper.SetDefault("database.username", "dxcp")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("identity.roles_claim", "https://dxcp/roles")
	viper.SetDefault("identity.refresh_every", "15m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("policy.daily_deploy_quota", 50)
	viper.SetDefault("policy.daily_rollback_quota", 20)
	viper.SetDefault("policy.daily_build_register_quota", 200)
	viper.SetDefault("policy.concurrent_per_group", 1)
	viper.SetDefault("policy.rate_limit_window", "1m")
	viper.SetDefault("policy.rate_limit_max", 60)
	viper.SetDefault("policy.idempotency_ttl", "24h")
	viper.SetDefault("policy.reconcile_poll_interval", "5s")
	viper.SetDefault("policy.reconcile_hard_timeout", "5m")
	viper.SetDefault("policy.live_settings_poll_interval", "10s")

	viper.SetDefault("engine.timeout", "30s")
	viper.SetDefault("artifact.scheme_allow", []string{"s3://"})
	viper.SetDefault("cors.origins", []string{})

	viper.SetDefault("app.name", "dxcp")
	viper.SetDefault("app.version", "dev")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

// Validate checks structural invariants that can't be expressed as
// validator tags on a flat mapstructure-decoded struct.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Database.Driver == "" || c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database connection fields cannot be empty")
	}
	if c.Identity.JWKSURL == "" {
		return fmt.Errorf("identity.jwks_url is required")
	}
	if c.Identity.Issuer == "" {
		return fmt.Errorf("identity.issuer is required")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if c.Policy.ConcurrentPerGroup < 1 {
		return fmt.Errorf("policy.concurrent_per_group must be >= 1")
	}
	if c.Policy.RateLimitMax < 1 {
		return fmt.Errorf("policy.rate_limit_max must be >= 1")
	}
	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine.endpoint is required")
	}
	return nil
}

// GetDatabaseURL constructs the Postgres DSN from discrete fields unless
// an explicit URL override is set.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsProduction reports whether the process is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug reports whether verbose/debug-level behavior should be enabled.
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.App.Environment == "development"
}
