package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	VerifyToken string

	DBDriver    string
	DatabaseURL string
	DBPath      string

	GraphBaseURL    string
	GraphAPIVersion string
	ProviderTimeout time.Duration

	BufferDelay     time.Duration
	CoolOff         time.Duration
	KeywordWindow   time.Duration
	RecencyWindow   time.Duration
	StuckAfter      time.Duration
	StuckCooldown   time.Duration
	TimeoutAfter    time.Duration
	ReviewAfter     time.Duration
	InactivityAfter time.Duration

	CloudinaryURL string
	MediaFolder   string

	RedisURL     string
	RedisChannel string

	LeadNotifyNumber string

	OTel OTelConfig
}

type OTelConfig struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("APP_ENV", "development"),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),

		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBPath:      getEnv("DB_PATH", "./whatsapp.db"),

		GraphBaseURL:    getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"),
		GraphAPIVersion: getEnv("GRAPH_API_VERSION", "v20.0"),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 15*time.Second),

		BufferDelay:     getDuration("BUFFER_DELAY", 2*time.Second),
		CoolOff:         getDuration("COOL_OFF", time.Hour),
		KeywordWindow:   getDuration("KEYWORD_WINDOW", 7*24*time.Hour),
		RecencyWindow:   getDuration("RECENCY_WINDOW", 16*time.Hour),
		StuckAfter:      getDuration("STUCK_AFTER", 3*time.Minute),
		StuckCooldown:   getDuration("STUCK_COOLDOWN", 24*time.Hour),
		TimeoutAfter:    getDuration("TIMEOUT_AFTER", 10*time.Minute),
		ReviewAfter:     getDuration("REVIEW_AFTER", time.Minute),
		InactivityAfter: getDuration("INACTIVITY_AFTER", 15*time.Minute),

		CloudinaryURL: getEnv("CLOUDINARY_URL", ""),
		MediaFolder:   getEnv("MEDIA_FOLDER", "whatsapp_media"),

		RedisURL:     getEnv("REDIS_URL", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "whatsapp-crm:events"),

		LeadNotifyNumber: getEnv("LEAD_NOTIFY_NUMBER", ""),

		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "whatsapp-crm"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getDuration accepts Go duration strings ("90s", "16h") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("invalid duration, using default", "key", key, "value", value, "default", fallback)
	return fallback
}
