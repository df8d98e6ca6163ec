package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	AdminAPIKey string

	SigningLinkSecret      string
	SigningLinkExpiryHours int
	SigningBaseURL         string

	OTPCodeLength        int
	OTPExpiryMinutes     int
	OTPMaxAttempts       int
	OTPIssueLimit        int
	OTPIssueWindowMins   int
	OTPVerifiedValidMins int

	SMSProvider           string
	AfricasTalkingAPIURL  string
	AfricasTalkingUser    string
	AfricasTalkingAPIKey  string
	AfricasTalkingSender  string

	RateLimitMaxKeys int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		SigningLinkSecret:      os.Getenv("SIGNING_LINK_SECRET"),
		SigningLinkExpiryHours: envIntDefault("SIGNING_LINK_EXPIRY_HOURS", 72),
		SigningBaseURL:         envDefault("SIGNING_BASE_URL", "http://localhost:8080/sign"),
		OTPCodeLength:          envIntDefault("OTP_CODE_LENGTH", 6),
		OTPExpiryMinutes:       envIntDefault("OTP_EXPIRY_MINUTES", 10),
		OTPMaxAttempts:         envIntDefault("OTP_MAX_ATTEMPTS", 3),
		OTPIssueLimit:          envIntDefault("OTP_ISSUE_LIMIT", 3),
		OTPIssueWindowMins:     envIntDefault("OTP_ISSUE_WINDOW_MINUTES", 60),
		OTPVerifiedValidMins:   envIntDefault("OTP_VERIFIED_VALID_MINUTES", 30),
		SMSProvider:            envDefault("SMS_PROVIDER", "log"),
		AfricasTalkingAPIURL:   os.Getenv("AFRICASTALKING_API_URL"),
		AfricasTalkingUser:     os.Getenv("AFRICASTALKING_USERNAME"),
		AfricasTalkingAPIKey:   os.Getenv("AFRICASTALKING_API_KEY"),
		AfricasTalkingSender:   os.Getenv("AFRICASTALKING_SENDER"),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (c Config) SigningLinkExpiry() time.Duration {
	if c.SigningLinkExpiryHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(c.SigningLinkExpiryHours) * time.Hour
}

func (c Config) OTPExpiry() time.Duration {
	if c.OTPExpiryMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.OTPExpiryMinutes) * time.Minute
}

func (c Config) OTPIssueWindow() time.Duration {
	if c.OTPIssueWindowMins <= 0 {
		return time.Hour
	}
	return time.Duration(c.OTPIssueWindowMins) * time.Minute
}

func (c Config) OTPVerifiedValidity() time.Duration {
	if c.OTPVerifiedValidMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.OTPVerifiedValidMins) * time.Minute
}
