package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded by a .env file in the
// working directory. No business logic should read raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Calls     CallsConfig
	History   HistoryConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	// PublicBaseURL is the externally reachable origin the carrier calls back on.
	PublicBaseURL string
}

// DBConfig is optional outside production. Without a host, history and the
// directory live in process memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. Without a host (or when it cannot be reached at
// startup) the call store runs in process memory.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIBaseURL string
	// CallerID is the default From number for outbound calls.
	CallerID          string
	ValidateSignature bool
	Timeout           time.Duration
}

type CallsConfig struct {
	ActiveTTL     time.Duration
	PendingTTL    time.Duration
	AliasTTL      time.Duration
	CleanupGrace  time.Duration
	PollPause     time.Duration
	MaxRingWait   time.Duration
	DialTimeout   time.Duration
	SweepInterval time.Duration
	ForwardNumber string
	Voice         string
}

type HistoryConfig struct {
	PoolSize      int
	Backlog       int
	RetryAttempts uint
	WriteTimeout  time.Duration
}

// KafkaConfig is optional; lifecycle events are only published when brokers are set.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TWILIO_API_BASE_URL", "https://api.twilio.com/2010-04-01")
	v.SetDefault("TWILIO_VALIDATE_SIGNATURE", false)
	v.SetDefault("TWILIO_TIMEOUT", "10s")
	v.SetDefault("CALLS_ACTIVE_TTL", "1h")
	v.SetDefault("CALLS_PENDING_TTL", "5m")
	v.SetDefault("CALLS_ALIAS_TTL", "2m")
	v.SetDefault("CALLS_CLEANUP_GRACE", "10s")
	v.SetDefault("CALLS_POLL_PAUSE", "2s")
	v.SetDefault("CALLS_MAX_RING_WAIT", "60s")
	v.SetDefault("CALLS_DIAL_TIMEOUT", "30s")
	v.SetDefault("CALLS_SWEEP_INTERVAL", "30s")
	v.SetDefault("CALLS_VOICE", "alice")
	v.SetDefault("HISTORY_POOL_SIZE", 8)
	v.SetDefault("HISTORY_BACKLOG", 1024)
	v.SetDefault("HISTORY_RETRY_ATTEMPTS", 3)
	v.SetDefault("HISTORY_WRITE_TIMEOUT", "10s")
	v.SetDefault("KAFKA_TOPIC", "call-lifecycle")
	v.SetDefault("KAFKA_CLIENT_ID", "voicebridge")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
}

// Load reads configuration from the environment and ./.env, then validates it.
func Load() (Config, error) {
	return LoadFrom(viper.New(), ".")
}

// LoadFrom is Load over a caller-supplied viper instance and .env search path.
func LoadFrom(v *viper.Viper, envDir string) (Config, error) {
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	setDefaults(v)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(envDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read .env: %w", err)
		}
	}

	c := Config{}
	c.App.Env = strings.TrimSpace(v.GetString("APP_ENV"))
	c.App.Port = v.GetInt("APP_PORT")
	c.App.LogLevel = strings.TrimSpace(v.GetString("LOG_LEVEL"))
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(v.GetString("DB_HOST"))
	c.DB.Port = v.GetInt("DB_PORT")
	c.DB.User = strings.TrimSpace(v.GetString("DB_USER"))
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(v.GetString("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(v.GetString("REDIS_HOST"))
	c.Redis.Port = v.GetInt("REDIS_PORT")
	c.Redis.Password = v.GetString("REDIS_PASSWORD")
	c.Redis.DB = v.GetInt("REDIS_DB")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(v.GetString("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("TWILIO_API_BASE_URL")), "/")
	c.Twilio.CallerID = strings.TrimSpace(v.GetString("TWILIO_CALLER_ID"))
	c.Twilio.ValidateSignature = v.GetBool("TWILIO_VALIDATE_SIGNATURE")
	c.Twilio.Timeout = v.GetDuration("TWILIO_TIMEOUT")

	c.Calls.ActiveTTL = v.GetDuration("CALLS_ACTIVE_TTL")
	c.Calls.PendingTTL = v.GetDuration("CALLS_PENDING_TTL")
	c.Calls.AliasTTL = v.GetDuration("CALLS_ALIAS_TTL")
	c.Calls.CleanupGrace = v.GetDuration("CALLS_CLEANUP_GRACE")
	c.Calls.PollPause = v.GetDuration("CALLS_POLL_PAUSE")
	c.Calls.MaxRingWait = v.GetDuration("CALLS_MAX_RING_WAIT")
	c.Calls.DialTimeout = v.GetDuration("CALLS_DIAL_TIMEOUT")
	c.Calls.SweepInterval = v.GetDuration("CALLS_SWEEP_INTERVAL")
	c.Calls.ForwardNumber = strings.TrimSpace(v.GetString("CALLS_FORWARD_NUMBER"))
	c.Calls.Voice = strings.TrimSpace(v.GetString("CALLS_VOICE"))

	c.History.PoolSize = v.GetInt("HISTORY_POOL_SIZE")
	c.History.Backlog = v.GetInt("HISTORY_BACKLOG")
	c.History.RetryAttempts = v.GetUint("HISTORY_RETRY_ATTEMPTS")
	c.History.WriteTimeout = v.GetDuration("HISTORY_WRITE_TIMEOUT")

	c.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	c.Kafka.Topic = strings.TrimSpace(v.GetString("KAFKA_TOPIC"))
	c.Kafka.ClientID = strings.TrimSpace(v.GetString("KAFKA_CLIENT_ID"))

	c.RateLimit.RPS = v.GetFloat64("RATE_LIMIT_RPS")
	c.RateLimit.Burst = v.GetInt("RATE_LIMIT_BURST")

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the whole config and reports every problem at once. It
// fills environment-dependent defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.App.PublicBaseURL, "http://") && !strings.HasPrefix(c.App.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.App.PublicBaseURL))
	}

	if c.DB.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_HOST is required in production"))
		}
	} else {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.CallerID == "" {
		errs = append(errs, errors.New("TWILIO_CALLER_ID is required"))
	}
	if c.IsProduction() && !c.Twilio.ValidateSignature {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE must be enabled in production"))
	}

	for name, d := range map[string]time.Duration{
		"CALLS_ACTIVE_TTL":     c.Calls.ActiveTTL,
		"CALLS_PENDING_TTL":    c.Calls.PendingTTL,
		"CALLS_ALIAS_TTL":      c.Calls.AliasTTL,
		"CALLS_CLEANUP_GRACE":  c.Calls.CleanupGrace,
		"CALLS_POLL_PAUSE":     c.Calls.PollPause,
		"CALLS_MAX_RING_WAIT":  c.Calls.MaxRingWait,
		"CALLS_SWEEP_INTERVAL": c.Calls.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Calls.MaxRingWait > 0 && c.Calls.PendingTTL > 0 && c.Calls.MaxRingWait >= c.Calls.PendingTTL {
		errs = append(errs, errors.New("CALLS_MAX_RING_WAIT must be shorter than CALLS_PENDING_TTL"))
	}

	if c.History.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_POOL_SIZE must be positive, got %d", c.History.PoolSize))
	}
	if c.History.Backlog <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_BACKLOG must be positive, got %d", c.History.Backlog))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) HasDB() bool { return c.DB.Host != "" }

func (c Config) HasRedis() bool { return c.Redis.Host != "" }

func (c Config) HasKafka() bool { return len(c.Kafka.Brokers) > 0 }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
