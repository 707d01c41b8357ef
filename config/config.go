package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Session  SessionConfig
	Business BusinessConfig
	Access   AccessConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
	Enabled       bool
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PrometheusPort string
}

// SessionConfig selects where carts and workflow sessions live
type SessionConfig struct {
	Backend       string
	TTL           time.Duration
	SweepInterval time.Duration
}

type BusinessConfig struct {
	DuplicateThreshold  float64
	SuggestionThreshold float64
	SuggestionLimit     int
	RemovalPIN          string
	PhonePattern        string
	LowStockThreshold   int
	DisplayTokenWidth   int
	MaxOrderQuantity    int
	DeliveryMethod      string
	CurrencyCode        string
}

type AccessConfig struct {
	APIKey             string
	AdminUserIDs       []int64
	StaffUserIDs       []int64
	AllowedOrigins     []string
	OutboundWebhookURL string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", ""),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "sqlite"),
			URL:    getEnv("DATABASE_URL", "file:pharmacy.db?_pragma=busy_timeout(5000)"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicOrder:    getEnv("KAFKA_TOPIC_PHARMACY_EVENTS", "pharmacy-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "pharmacy-notifier"),
			Enabled:       getBool("KAFKA_ENABLED", false),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		},
		Session: SessionConfig{
			Backend:       getEnv("SESSION_BACKEND", "memory"),
			TTL:           getDuration("SESSION_TTL", 30*time.Minute),
			SweepInterval: getDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Business: BusinessConfig{
			DuplicateThreshold:  getFloat("DUPLICATE_THRESHOLD", 0.8),
			SuggestionThreshold: getFloat("SUGGESTION_THRESHOLD", 0.35),
			SuggestionLimit:     getInt("SUGGESTION_LIMIT", 5),
			RemovalPIN:          getEnv("REMOVAL_PIN", ""),
			PhonePattern:        getEnv("PHONE_PATTERN", `^(\+251|0)[79]\d{8}$`),
			LowStockThreshold:   getInt("LOW_STOCK_THRESHOLD", 10),
			DisplayTokenWidth:   getInt("DISPLAY_TOKEN_WIDTH", 6),
			MaxOrderQuantity:    getInt("MAX_ORDER_QUANTITY", 1000),
			DeliveryMethod:      getEnv("DELIVERY_METHOD", "pickup"),
			CurrencyCode:        getEnv("CURRENCY_CODE", "ETB"),
		},
		Access: AccessConfig{
			APIKey:             getEnv("API_KEY", ""),
			AdminUserIDs:       getIDs("ADMIN_USER_IDS"),
			StaffUserIDs:       getIDs("STAFF_USER_IDS"),
			AllowedOrigins:     strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000"), ","),
			OutboundWebhookURL: getEnv("OUTBOUND_WEBHOOK_URL", ""),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, db=%s, sessions=%s",
		cfg.Server.Env, cfg.Server.Port, cfg.Database.Driver, cfg.Session.Backend)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

// getIDs parses a comma separated list of user ids, skipping malformed entries
func getIDs(key string) []int64 {
	var ids []int64
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Ignoring malformed id %q in %s", part, key)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
