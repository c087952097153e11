package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	QuotaStoreMemory    = "memory"
	QuotaStorePostgres  = "postgres"
	QuotaStoreSQLite    = "sqlite"
	QuotaStoreRedis     = "redis"
	QuotaStoreFirestore = "firestore"

	ProviderGateway  = "gateway"
	ProviderGigaChat = "gigachat"
	ProviderVertex   = "vertex"
)

type Config struct {
	Server    ServerConfig
	Limits    LimitsConfig
	Quota     QuotaConfig
	Database  DatabaseConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Firestore FirestoreConfig
	JWT       JWTConfig
	Extractor ExtractorConfig
	Gateway   GatewayConfig
	GigaChat  GigaChatConfig
	Vertex    VertexConfig
	Logger    LoggerConfig
}

type LoggerConfig struct {
	Level string
}

type ServerConfig struct {
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	TrustProxyHeaders bool
}

// LimitsConfig holds the admission-control policy.
type LimitsConfig struct {
	AnonymousDailyLimit     int
	AuthenticatedDailyLimit int
	Window                  time.Duration
	MaxUploadBytes          int64
	IdentifierSalt          string
}

type QuotaConfig struct {
	Store            string
	MemoryMaxEntries int
	SweepInterval    time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

type FirestoreConfig struct {
	ProjectID  string
	Collection string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
	Audience  string
}

type ExtractorConfig struct {
	Provider string
	Timeout  time.Duration
}

// GatewayConfig targets an OpenAI-compatible chat completions endpoint.
type GatewayConfig struct {
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
}

type GigaChatConfig struct {
	APIKey             string
	Scope              string
	Model              string
	InsecureSkipVerify bool
}

type VertexConfig struct {
	ProjectID string
	Region    string
	Model     string
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables work for Docker/K8s and Cloud Functions
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	readTimeout, _ := strconv.Atoi(getEnv("SERVER_READ_TIMEOUT", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("SERVER_WRITE_TIMEOUT", "120"))
	bodyLimitMB, _ := strconv.Atoi(getEnv("SERVER_BODY_LIMIT_MB", "32"))
	anonLimit, _ := strconv.Atoi(getEnv("ANONYMOUS_DAILY_LIMIT", "3"))
	authLimit, _ := strconv.Atoi(getEnv("AUTHENTICATED_DAILY_LIMIT", "20"))
	windowHours, _ := strconv.Atoi(getEnv("RATE_LIMIT_WINDOW_HOURS", "24"))
	maxUploadMB, _ := strconv.Atoi(getEnv("MAX_UPLOAD_MB", "10"))
	maxEntries, _ := strconv.Atoi(getEnv("QUOTA_MEMORY_MAX_ENTRIES", "10000"))
	sweepMinutes, _ := strconv.Atoi(getEnv("QUOTA_SWEEP_INTERVAL_MINUTES", "10"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisPool, _ := strconv.Atoi(getEnv("REDIS_POOL_SIZE", "10"))
	extractorTimeout, _ := strconv.Atoi(getEnv("EXTRACTOR_TIMEOUT_SECONDS", "60"))
	maxTokens, _ := strconv.Atoi(getEnv("AI_MAX_TOKENS", "8000"))

	return &Config{
		Server: ServerConfig{
			Port:              getEnv("SERVER_PORT", "8080"),
			ReadTimeout:       time.Duration(readTimeout) * time.Second,
			WriteTimeout:      time.Duration(writeTimeout) * time.Second,
			BodyLimit:         bodyLimitMB * 1024 * 1024,
			TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
		},
		Limits: LimitsConfig{
			AnonymousDailyLimit:     anonLimit,
			AuthenticatedDailyLimit: authLimit,
			Window:                  time.Duration(windowHours) * time.Hour,
			MaxUploadBytes:          int64(maxUploadMB) * 1024 * 1024,
			IdentifierSalt:          getEnv("IDENTIFIER_SALT", ""),
		},
		Quota: QuotaConfig{
			Store:            strings.ToLower(getEnv("QUOTA_STORE", QuotaStoreMemory)),
			MemoryMaxEntries: maxEntries,
			SweepInterval:    time.Duration(sweepMinutes) * time.Minute,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "statement_converter"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/usage.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			PoolSize: redisPool,
			Prefix:   getEnv("REDIS_PREFIX", "usage:"),
		},
		Firestore: FirestoreConfig{
			ProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
			Collection: getEnv("FIRESTORE_COLLECTION", "usage_counters"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Extractor: ExtractorConfig{
			Provider: strings.ToLower(getEnv("EXTRACTOR_PROVIDER", ProviderGateway)),
			Timeout:  time.Duration(extractorTimeout) * time.Second,
		},
		Gateway: GatewayConfig{
			URL:       getEnv("AI_GATEWAY_URL", "https://ai.gateway.lovable.dev/v1/chat/completions"),
			APIKey:    getEnv("AI_GATEWAY_API_KEY", ""),
			Model:     getEnv("AI_GATEWAY_MODEL", "google/gemini-3-flash-preview"),
			MaxTokens: maxTokens,
		},
		GigaChat: GigaChatConfig{
			APIKey:             getEnv("GIGACHAT_API_KEY", ""),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			Model:              getEnv("GIGACHAT_MODEL", "GigaChat"),
			InsecureSkipVerify: getEnvBool("GIGACHAT_INSECURE_SKIP_VERIFY", false),
		},
		Vertex: VertexConfig{
			ProjectID: getEnv("VERTEX_PROJECT_ID", ""),
			Region:    getEnv("VERTEX_REGION", "us-central1"),
			Model:     getEnv("VERTEX_MODEL", "gemini-2.5-flash"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	var errs []error

	if c.Limits.AnonymousDailyLimit <= 0 || c.Limits.AuthenticatedDailyLimit <= 0 {
		errs = append(errs, errors.New("daily limits must be positive"))
	}
	if c.Limits.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW_HOURS must be positive"))
	}
	if c.Limits.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	if c.Limits.IdentifierSalt == "" {
		errs = append(errs, errors.New("IDENTIFIER_SALT must be set"))
	}

	switch c.Quota.Store {
	case QuotaStoreMemory, QuotaStorePostgres, QuotaStoreSQLite, QuotaStoreRedis:
	case QuotaStoreFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID must be set for the firestore quota store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUOTA_STORE %q", c.Quota.Store))
	}

	switch c.Extractor.Provider {
	case ProviderGateway:
		if c.Gateway.APIKey == "" {
			errs = append(errs, errors.New("AI_GATEWAY_API_KEY must be set for the gateway extractor"))
		}
	case ProviderGigaChat:
		if c.GigaChat.APIKey == "" {
			errs = append(errs, errors.New("GIGACHAT_API_KEY must be set for the gigachat extractor"))
		}
	case ProviderVertex:
		if c.Vertex.ProjectID == "" {
			errs = append(errs, errors.New("VERTEX_PROJECT_ID must be set for the vertex extractor"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EXTRACTOR_PROVIDER %q", c.Extractor.Provider))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
