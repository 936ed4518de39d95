package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// SMTPConfig holds the outbound mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// TwilioConfig holds the WhatsApp messaging provider settings.
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	WhatsAppFrom string
}

// Config is the process configuration, resolved once at startup. Outbound
// channel credentials are injected here instead of living in package-level
// globals.
type Config struct {
	ListenAddr     string
	DatabaseDSN    string
	RedisAddr      string
	RedisPassword  string
	ClassifierAddr string
	ReportsDir     string
	UploadsDir     string
	PublicBaseURL  string
	JWTSecret      string
	JWTAudience    string
	LogLevel       string
	OTPTTL         time.Duration
	SMTP           SMTPConfig
	Twilio         TwilioConfig
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=mammoscan port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		ClassifierAddr: getEnv("CLASSIFIER_ADDR", "classifier:50051"),
		ReportsDir:     getEnv("REPORTS_DIR", "reports"),
		UploadsDir:     getEnv("UPLOADS_DIR", "uploads"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		OTPTTL:         getEnvDuration("OTP_TTL", 10*time.Minute),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     getEnv("SMTP_FROM", os.Getenv("SMTP_USER")),
		},
		Twilio: TwilioConfig{
			AccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
			WhatsAppFrom: getEnv("TWILIO_WHATSAPP_FROM", "whatsapp:+14155238886"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
