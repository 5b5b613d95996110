package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Expiry trigger modes for seat lock reconciliation
const (
	ExpiryTriggerSubscription = "subscription"
	ExpiryTriggerSweep        = "sweep"
	ExpiryTriggerBoth         = "both"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OTel     OTelConfig     `mapstructure:"otel"`
	SeatLock SeatLockConfig `mapstructure:"seat_lock"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Services ServicesConfig `mapstructure:"services"`
}

// ServicesConfig holds base URLs of collaborator services
type ServicesConfig struct {
	ShowtimeServiceURL  string        `mapstructure:"showtime_service_url"`
	PricingServiceURL   string        `mapstructure:"pricing_service_url"`
	PromotionServiceURL string        `mapstructure:"promotion_service_url"`
	MovieServiceURL     string        `mapstructure:"movie_service_url"`
	UserServiceURL      string        `mapstructure:"user_service_url"`
	FnbServiceURL       string        `mapstructure:"fnb_service_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ApplySchema     bool          `mapstructure:"apply_schema"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
	MaxRetries    int      `mapstructure:"max_retries"`
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// SeatLockConfig holds seat hold timing and expiry reconciliation settings
type SeatLockConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	PaymentTTL    time.Duration `mapstructure:"payment_ttl"`
	MappingMargin time.Duration `mapstructure:"mapping_margin"`

	// ExpiryTrigger is subscription, sweep or both
	ExpiryTrigger           string        `mapstructure:"expiry_trigger"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize          int           `mapstructure:"sweep_batch_size"`
	ConfigureKeyspaceEvents bool          `mapstructure:"configure_keyspace_events"`
}

// UseSubscription reports whether keyspace expiry notifications drive reconciliation
func (s *SeatLockConfig) UseSubscription() bool {
	return s.ExpiryTrigger == ExpiryTriggerSubscription || s.ExpiryTrigger == ExpiryTriggerBoth
}

// UseSweep reports whether the periodic sweep drives reconciliation
func (s *SeatLockConfig) UseSweep() bool {
	return s.ExpiryTrigger == ExpiryTriggerSweep || s.ExpiryTrigger == ExpiryTriggerBoth
}

// BookingConfig holds booking business rules
type BookingConfig struct {
	CancelCutoff       time.Duration `mapstructure:"cancel_cutoff"`
	MonthlyCancelLimit int           `mapstructure:"monthly_cancel_limit"`
	LoyaltyPointUnit   int64         `mapstructure:"loyalty_point_unit"`
}

// OutboxConfig holds outbox relay settings
type OutboxConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Retention       time.Duration `mapstructure:"retention"`
	BatchSize       int           `mapstructure:"batch_size"`
	ClaimLease      time.Duration `mapstructure:"claim_lease"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables may carry everything
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "cinema-booking")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8083)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Booking database
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "booking_db")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_APPLY_SCHEMA", false)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "booking-service")
	v.SetDefault("KAFKA_CLIENT_ID", "booking-service")
	v.SetDefault("KAFKA_MAX_RETRIES", 3)

	// JWT defaults
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "cinema-auth")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "booking-service")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Seat lock defaults
	v.SetDefault("SEAT_LOCK_DEFAULT_TTL", "300s")
	v.SetDefault("SEAT_LOCK_PAYMENT_TTL", "600s")
	v.SetDefault("SEAT_LOCK_MAPPING_MARGIN", "60s")
	v.SetDefault("SEAT_LOCK_EXPIRY_TRIGGER", ExpiryTriggerBoth)
	v.SetDefault("SEAT_LOCK_SWEEP_INTERVAL", "15s")
	v.SetDefault("SEAT_LOCK_SWEEP_BATCH_SIZE", 200)
	v.SetDefault("SEAT_LOCK_CONFIGURE_KEYSPACE_EVENTS", true)

	// Booking rules
	v.SetDefault("BOOKING_CANCEL_CUTOFF", "60m")
	v.SetDefault("BOOKING_MONTHLY_CANCEL_LIMIT", 2)
	v.SetDefault("BOOKING_LOYALTY_POINT_UNIT", 10000)

	// Outbox relay
	v.SetDefault("OUTBOX_POLL_INTERVAL", "100ms")
	v.SetDefault("OUTBOX_RETRY_INTERVAL", "5s")
	v.SetDefault("OUTBOX_CLEANUP_INTERVAL", "1h")
	v.SetDefault("OUTBOX_RETENTION", "24h")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("OUTBOX_CLAIM_LEASE", "30s")

	// Collaborators
	v.SetDefault("SERVICES_SHOWTIME_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("SERVICES_PRICING_SERVICE_URL", "http://localhost:8084")
	v.SetDefault("SERVICES_PROMOTION_SERVICE_URL", "http://localhost:8084")
	v.SetDefault("SERVICES_MOVIE_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("SERVICES_USER_SERVICE_URL", "http://localhost:8080")
	v.SetDefault("SERVICES_FNB_SERVICE_URL", "http://localhost:8085")
	v.SetDefault("SERVICES_TIMEOUT", "5s")
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.ApplySchema = v.GetBool("DATABASE_APPLY_SCHEMA")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.MaxRetries = v.GetInt("KAFKA_MAX_RETRIES")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Seat lock
	cfg.SeatLock.DefaultTTL = v.GetDuration("SEAT_LOCK_DEFAULT_TTL")
	cfg.SeatLock.PaymentTTL = v.GetDuration("SEAT_LOCK_PAYMENT_TTL")
	cfg.SeatLock.MappingMargin = v.GetDuration("SEAT_LOCK_MAPPING_MARGIN")
	cfg.SeatLock.ExpiryTrigger = strings.ToLower(v.GetString("SEAT_LOCK_EXPIRY_TRIGGER"))
	cfg.SeatLock.SweepInterval = v.GetDuration("SEAT_LOCK_SWEEP_INTERVAL")
	cfg.SeatLock.SweepBatchSize = v.GetInt("SEAT_LOCK_SWEEP_BATCH_SIZE")
	cfg.SeatLock.ConfigureKeyspaceEvents = v.GetBool("SEAT_LOCK_CONFIGURE_KEYSPACE_EVENTS")

	// Booking
	cfg.Booking.CancelCutoff = v.GetDuration("BOOKING_CANCEL_CUTOFF")
	cfg.Booking.MonthlyCancelLimit = v.GetInt("BOOKING_MONTHLY_CANCEL_LIMIT")
	cfg.Booking.LoyaltyPointUnit = v.GetInt64("BOOKING_LOYALTY_POINT_UNIT")

	// Outbox
	cfg.Outbox.PollInterval = v.GetDuration("OUTBOX_POLL_INTERVAL")
	cfg.Outbox.RetryInterval = v.GetDuration("OUTBOX_RETRY_INTERVAL")
	cfg.Outbox.CleanupInterval = v.GetDuration("OUTBOX_CLEANUP_INTERVAL")
	cfg.Outbox.Retention = v.GetDuration("OUTBOX_RETENTION")
	cfg.Outbox.BatchSize = v.GetInt("OUTBOX_BATCH_SIZE")
	cfg.Outbox.ClaimLease = v.GetDuration("OUTBOX_CLAIM_LEASE")

	// Services
	cfg.Services.ShowtimeServiceURL = v.GetString("SERVICES_SHOWTIME_SERVICE_URL")
	cfg.Services.PricingServiceURL = v.GetString("SERVICES_PRICING_SERVICE_URL")
	cfg.Services.PromotionServiceURL = v.GetString("SERVICES_PROMOTION_SERVICE_URL")
	cfg.Services.MovieServiceURL = v.GetString("SERVICES_MOVIE_SERVICE_URL")
	cfg.Services.UserServiceURL = v.GetString("SERVICES_USER_SERVICE_URL")
	cfg.Services.FnbServiceURL = v.GetString("SERVICES_FNB_SERVICE_URL")
	cfg.Services.Timeout = v.GetDuration("SERVICES_TIMEOUT")

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.SeatLock.DefaultTTL <= 0 || c.SeatLock.PaymentTTL <= 0 {
		return fmt.Errorf("seat lock TTLs must be positive")
	}
	if c.SeatLock.PaymentTTL < c.SeatLock.DefaultTTL {
		return fmt.Errorf("seat lock payment TTL (%s) must not be shorter than default TTL (%s)",
			c.SeatLock.PaymentTTL, c.SeatLock.DefaultTTL)
	}

	switch c.SeatLock.ExpiryTrigger {
	case ExpiryTriggerSubscription, ExpiryTriggerSweep, ExpiryTriggerBoth:
	default:
		return fmt.Errorf("invalid seat lock expiry trigger: %q", c.SeatLock.ExpiryTrigger)
	}

	if c.SeatLock.UseSweep() && c.SeatLock.SweepInterval <= 0 {
		return fmt.Errorf("seat lock sweep interval must be positive")
	}

	if c.Booking.LoyaltyPointUnit <= 0 {
		return fmt.Errorf("loyalty point unit must be positive")
	}

	return nil
}

// ValidateDatabase validates booking database configuration
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
