package internal

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=5000"`
	GrpcPort int    `env:"GRPC_PORT,default=5001"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	SyncWrites     bool   `env:"SYNC_WRITES,default=true"`
	LimitMessages  *int   `env:"LIMIT_MESSAGES"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=500ms"`
	StrictMembership     bool          `env:"STRICT_MEMBERSHIP,default=true"`

	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT,default=3s"`
	PersistRetries uint64        `env:"PERSIST_RETRIES,default=2"`
	RetryInterval  time.Duration `env:"RETRY_INTERVAL,default=50ms"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND,default=5"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST,default=10"`
	MaxMessageSize     int64   `env:"MAX_MESSAGE_SIZE,default=4096"`
	MaxTextLength      int     `env:"MAX_TEXT_LENGTH,default=2000"`
	AllowedOrigins     string  `env:"ALLOWED_ORIGINS"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}

// LoadConfig reads the process environment, after loading the given .env files if they exist.
func LoadConfig(dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		// A missing .env file is fine, the environment may be set by other means
		_ = godotenv.Load(f)
	}
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.ConnectionBufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be positive, got %s", c.PersistTimeout)
	}
	if c.LimitMessages != nil && *c.LimitMessages <= 0 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	if c.Port == c.GrpcPort {
		return fmt.Errorf("PORT and GRPC_PORT must differ, both are %d", c.Port)
	}
	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) GrpcAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.GrpcPort))
}

// Origins returns the comma separated ALLOWED_ORIGINS. Empty means same origin only.
func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
