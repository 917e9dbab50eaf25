package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"

	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"
	MQBackendMemory   = "memory"
)

type Config struct {
	ServerPort  int
	StoreDriver string
	Database    DatabaseConfig
	SQLite      SQLiteConfig
	Auth        AuthConfig
	MQ          MQConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type SQLiteConfig struct {
	Path string
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	JWTSecret            string
	JWTIssuer            string
	TokenTTL             time.Duration
	BcryptCost           int
	MaxConcurrentHashing int
}

type MQConfig struct {
	Backend       string
	EventsChannel string
	RabbitMQ      RabbitMQConfig
	PubSub        PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	PrefetchCount   int
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type LogConfig struct {
	Level  string
	Format string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "authserver"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "authserver_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	authConfig := AuthConfig{
		JWTSecret:            strings.TrimSpace(getEnv("JWT_SECRET", "")),
		JWTIssuer:            strings.TrimSpace(getEnv("JWT_ISSUER", "")),
		TokenTTL:             getEnvDuration("JWT_TTL", 24*time.Hour),
		BcryptCost:           getEnvInt("BCRYPT_COST", 10),
		MaxConcurrentHashing: getEnvInt("BCRYPT_MAX_CONCURRENCY", runtime.NumCPU()),
	}

	mqConfig := MQConfig{
		Backend:       strings.ToLower(getEnv("MQ_BACKEND", MQBackendNone)),
		EventsChannel: getEnv("MQ_EVENTS_CHANNEL", "auth-events"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	return Config{
		ServerPort:  getEnvInt("SERVER_PORT", 8080),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		Database:    dbConfig,
		SQLite:      SQLiteConfig{Path: getEnv("SQLITE_PATH", "authserver.db")},
		Auth:        authConfig,
		MQ:          mqConfig,
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
}

// Validate reports the first setting that makes the config unusable for
// running the server.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}

	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	case StoreDriverSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.MQ.Backend {
	case MQBackendNone, MQBackendMemory, "":
	case MQBackendRabbitMQ:
		if strings.TrimSpace(c.MQ.RabbitMQ.URL) == "" {
			return errors.New("RABBITMQ_URL is required for the rabbitmq backend")
		}
	case MQBackendPubSub:
		if strings.TrimSpace(c.MQ.PubSub.ProjectID) == "" {
			return errors.New("PUBSUB_PROJECT_ID is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unsupported MQ_BACKEND %q", c.MQ.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
