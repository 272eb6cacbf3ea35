// Package config loads relay configuration from defaults, an optional TOML
// file, an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	strutil "relay/pkg/platform/strings"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	NotifierLog   = "log"
	NotifierRedis = "redis"
	NotifierKafka = "kafka"
)

// Config is the fully resolved configuration.
type Config struct {
	Server  Server
	Redis   RedisConfig
	Kafka   KafkaConfig
	Relay   RelayConfig
	Logging LoggingConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig configures the shared Redis backend and pub/sub notifier.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Partitions  int32
	Replication int16
}

// RelayConfig holds the relay's own policies.
type RelayConfig struct {
	Store            string
	Notifier         string
	Retention        time.Duration
	PurgeInterval    time.Duration
	PrefixMatch      bool
	PrefixMinLen     int
	DeliveryPreempts bool
	NotifyQueueSize  int
	NotifyWorkers    int
	NotifyMaxTries   int
	AuditBuffer      int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is an optional TOML file. If set, it must exist and parse.
	ConfigPath string
	// EnvFile is an optional dotenv file; a missing file is ignored.
	EnvFile string
	// Logger receives warnings about undecoded keys. Defaults to slog.Default().
	Logger *slog.Logger
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			JWTSigningKey:   "dev-secret-key-change-in-production",
			JWTIssuer:       "relay-gateway",
			JWTAudience:     "relay",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:       "relay.notifications",
			Partitions:  3,
			Replication: 1,
		},
		Relay: RelayConfig{
			Store:            StoreMemory,
			Notifier:         NotifierLog,
			Retention:        30 * 24 * time.Hour,
			PurgeInterval:    time.Hour,
			PrefixMatch:      true,
			PrefixMinLen:     8,
			DeliveryPreempts: true,
			NotifyQueueSize:  1024,
			NotifyWorkers:    4,
			NotifyMaxTries:   3,
			AuditBuffer:      256,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// fileConfig mirrors Config with pointer fields to detect presence.
type fileConfig struct {
	Server  *serverFile  `toml:"server"`
	Redis   *redisFile   `toml:"redis"`
	Kafka   *kafkaFile   `toml:"kafka"`
	Relay   *relayFile   `toml:"relay"`
	Logging *loggingFile `toml:"logging"`
}

type serverFile struct {
	Addr            *string `toml:"addr"`
	JWTIssuer       *string `toml:"jwt_issuer"`
	JWTAudience     *string `toml:"jwt_audience"`
	RequestTimeout  *string `toml:"request_timeout"`
	ShutdownTimeout *string `toml:"shutdown_timeout"`
}

type redisFile struct {
	URL          *string `toml:"url"`
	PoolSize     *int    `toml:"pool_size"`
	MinIdleConns *int    `toml:"min_idle_conns"`
	DialTimeout  *string `toml:"dial_timeout"`
	ReadTimeout  *string `toml:"read_timeout"`
	WriteTimeout *string `toml:"write_timeout"`
}

type kafkaFile struct {
	Brokers     []string `toml:"brokers"`
	Topic       *string  `toml:"topic"`
	Partitions  *int32   `toml:"partitions"`
	Replication *int16   `toml:"replication"`
}

type relayFile struct {
	Store            *string `toml:"store"`
	Notifier         *string `toml:"notifier"`
	Retention        *string `toml:"retention"`
	PurgeInterval    *string `toml:"purge_interval"`
	PrefixMatch      *bool   `toml:"prefix_match"`
	PrefixMinLen     *int    `toml:"prefix_min_len"`
	DeliveryPreempts *bool   `toml:"delivery_preempts"`
	NotifyQueueSize  *int    `toml:"notify_queue_size"`
	NotifyWorkers    *int    `toml:"notify_workers"`
	NotifyMaxTries   *int    `toml:"notify_max_tries"`
	AuditBuffer      *int    `toml:"audit_buffer"`
}

type loggingFile struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
}

// Load resolves configuration and validates it. Errors fail fast; unknown TOML
// keys only warn. The JWT signing key is accepted from the environment only.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()

	if opts.ConfigPath != "" {
		var fc fileConfig
		md, err := toml.DecodeFile(opts.ConfigPath, &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
		if err := fc.apply(&cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", opts.ConfigPath, err)
		}
	}

	if opts.EnvFile != "" {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a Config from defaults and the environment only.
func FromEnv() (*Config, error) {
	return Load(LoaderOptions{})
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Relay.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required when RELAY_STORE=redis")
		}
	default:
		return fmt.Errorf("invalid store %q: must be memory or redis", c.Relay.Store)
	}
	switch c.Relay.Notifier {
	case NotifierLog:
	case NotifierRedis:
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required when RELAY_NOTIFIER=redis")
		}
	case NotifierKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when RELAY_NOTIFIER=kafka")
		}
	default:
		return fmt.Errorf("invalid notifier %q: must be log, redis or kafka", c.Relay.Notifier)
	}
	if c.Relay.Retention <= 0 {
		return errors.New("retention must be positive")
	}
	if c.Relay.PurgeInterval <= 0 {
		return errors.New("purge interval must be positive")
	}
	if c.Relay.PrefixMinLen < 1 {
		return errors.New("prefix minimum length must be at least 1")
	}
	if c.Server.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY must not be empty")
	}
	return nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	var err error
	if s := fc.Server; s != nil {
		setString(&cfg.Server.Addr, s.Addr)
		setString(&cfg.Server.JWTIssuer, s.JWTIssuer)
		setString(&cfg.Server.JWTAudience, s.JWTAudience)
		err = errors.Join(err,
			setDuration(&cfg.Server.RequestTimeout, s.RequestTimeout, "server.request_timeout"),
			setDuration(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout, "server.shutdown_timeout"),
		)
	}
	if r := fc.Redis; r != nil {
		setString(&cfg.Redis.URL, r.URL)
		setInt(&cfg.Redis.PoolSize, r.PoolSize)
		setInt(&cfg.Redis.MinIdleConns, r.MinIdleConns)
		err = errors.Join(err,
			setDuration(&cfg.Redis.DialTimeout, r.DialTimeout, "redis.dial_timeout"),
			setDuration(&cfg.Redis.ReadTimeout, r.ReadTimeout, "redis.read_timeout"),
			setDuration(&cfg.Redis.WriteTimeout, r.WriteTimeout, "redis.write_timeout"),
		)
	}
	if k := fc.Kafka; k != nil {
		if brokers := strutil.DedupeAndTrim(k.Brokers); len(brokers) > 0 {
			cfg.Kafka.Brokers = brokers
		}
		setString(&cfg.Kafka.Topic, k.Topic)
		if k.Partitions != nil {
			cfg.Kafka.Partitions = *k.Partitions
		}
		if k.Replication != nil {
			cfg.Kafka.Replication = *k.Replication
		}
	}
	if r := fc.Relay; r != nil {
		setString(&cfg.Relay.Store, r.Store)
		setString(&cfg.Relay.Notifier, r.Notifier)
		setBool(&cfg.Relay.PrefixMatch, r.PrefixMatch)
		setInt(&cfg.Relay.PrefixMinLen, r.PrefixMinLen)
		setBool(&cfg.Relay.DeliveryPreempts, r.DeliveryPreempts)
		setInt(&cfg.Relay.NotifyQueueSize, r.NotifyQueueSize)
		setInt(&cfg.Relay.NotifyWorkers, r.NotifyWorkers)
		setInt(&cfg.Relay.NotifyMaxTries, r.NotifyMaxTries)
		setInt(&cfg.Relay.AuditBuffer, r.AuditBuffer)
		err = errors.Join(err,
			setDuration(&cfg.Relay.Retention, r.Retention, "relay.retention"),
			setDuration(&cfg.Relay.PurgeInterval, r.PurgeInterval, "relay.purge_interval"),
		)
	}
	if l := fc.Logging; l != nil {
		setString(&cfg.Logging.Level, l.Level)
		setString(&cfg.Logging.Format, l.Format)
	}
	return err
}

func applyEnv(cfg *Config) error {
	envString("RELAY_ADDR", &cfg.Server.Addr)
	envString("JWT_SIGNING_KEY", &cfg.Server.JWTSigningKey)
	envString("JWT_ISSUER", &cfg.Server.JWTIssuer)
	envString("JWT_AUDIENCE", &cfg.Server.JWTAudience)
	envString("REDIS_URL", &cfg.Redis.URL)
	envString("KAFKA_TOPIC", &cfg.Kafka.Topic)
	envString("RELAY_STORE", &cfg.Relay.Store)
	envString("RELAY_NOTIFIER", &cfg.Relay.Notifier)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strutil.DedupeAndTrim(strings.Split(brokers, ","))
	}

	return errors.Join(
		envDuration("RELAY_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout),
		envDuration("RELAY_RETENTION", &cfg.Relay.Retention),
		envDuration("RELAY_PURGE_INTERVAL", &cfg.Relay.PurgeInterval),
		envBool("RELAY_PREFIX_MATCH", &cfg.Relay.PrefixMatch),
		envInt("RELAY_PREFIX_MIN_LEN", &cfg.Relay.PrefixMinLen),
		envBool("RELAY_DELIVERY_PREEMPTS", &cfg.Relay.DeliveryPreempts),
		envInt("RELAY_NOTIFY_QUEUE_SIZE", &cfg.Relay.NotifyQueueSize),
		envInt("RELAY_NOTIFY_WORKERS", &cfg.Relay.NotifyWorkers),
		envInt("REDIS_POOL_SIZE", &cfg.Redis.PoolSize),
	)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
