package config

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	DevMode     bool

	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	CookieSecure     bool

	OTPSalt        string
	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPMaxPerDay   int
	BcryptCost     int

	RazorpayKeyID         string
	RazorpaySecret        string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	GatewayTimeout        time.Duration
	Currency              string
	StoreName             string

	SMTP     SMTPConfig
	Redis    RedisConfig
	AMQPURL  string
	RateAuth RateLimitConfig
}

// SMTPConfig configures outbound email
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Secure   bool
}

// Configured reports whether SMTP delivery is possible
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

// RedisConfig configures the optional redis client
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig is a token bucket for auth endpoints
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
}

// GatewayConfigured reports whether both Razorpay credentials are present
func (c *Config) GatewayConfigured() bool {
	return c.RazorpayKeyID != "" && c.RazorpaySecret != ""
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DEV_MODE", false)
	v.SetDefault("JWT_ACCESS_EXPIRY", "15m")
	v.SetDefault("JWT_REFRESH_EXPIRY", "7d")
	v.SetDefault("REFRESH_COOKIE_SECURE", false)
	v.SetDefault("OTP_EXPIRY", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_MAX_PER_DAY", 3)
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("CURRENCY", "INR")
	v.SetDefault("STORE_NAME", "Annavaram Store")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_SECURE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_CAPACITY", 10)
	v.SetDefault("RATE_LIMIT_REFILL_TOKENS", 1)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", "1m")
	v.SetDefault("RATE_LIMIT_TTL", "30m")
	return v
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := newViper()

	cfg := &Config{
		Port:    v.GetString("PORT"),
		DevMode: v.GetBool("DEV_MODE"),
	}

	databaseURL := v.GetString("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL
	logDatabaseTarget(databaseURL)

	for _, req := range []struct {
		key string
		dst *string
	}{
		{"JWT_ACCESS_SECRET", &cfg.JWTAccessSecret},
		{"JWT_REFRESH_SECRET", &cfg.JWTRefreshSecret},
		{"OTP_SALT", &cfg.OTPSalt},
	} {
		val := v.GetString(req.key)
		if val == "" {
			return nil, fmt.Errorf("%s environment variable is required", req.key)
		}
		*req.dst = val
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	var err error
	if cfg.AccessTokenTTL, err = durationKey(v, "JWT_ACCESS_EXPIRY"); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = durationKey(v, "JWT_REFRESH_EXPIRY"); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = durationKey(v, "OTP_EXPIRY"); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = durationKey(v, "GATEWAY_TIMEOUT"); err != nil {
		return nil, err
	}
	cfg.CookieSecure = v.GetBool("REFRESH_COOKIE_SECURE")
	cfg.OTPMaxAttempts = v.GetInt("OTP_MAX_ATTEMPTS")
	cfg.OTPMaxPerDay = v.GetInt("OTP_MAX_PER_DAY")
	cfg.BcryptCost = v.GetInt("BCRYPT_COST")

	cfg.RazorpayKeyID = v.GetString("RAZORPAY_KEY_ID")
	cfg.RazorpaySecret = v.GetString("RAZORPAY_SECRET")
	cfg.RazorpayWebhookSecret = v.GetString("RAZORPAY_WEBHOOK_SECRET")
	cfg.RazorpayBaseURL = strings.TrimRight(v.GetString("RAZORPAY_BASE_URL"), "/")
	cfg.Currency = strings.ToUpper(v.GetString("CURRENCY"))
	cfg.StoreName = v.GetString("STORE_NAME")
	if !cfg.GatewayConfigured() {
		log.Printf("Razorpay credentials not set; orders will use the manual payment flow")
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		User:     v.GetString("SMTP_USER"),
		Password: v.GetString("SMTP_PASS"),
		From:     v.GetString("SMTP_FROM"),
		Secure:   v.GetBool("SMTP_SECURE"),
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}
	cfg.AMQPURL = v.GetString("RABBITMQ_URL")

	cfg.RateAuth = RateLimitConfig{
		Enabled:      v.GetBool("RATE_LIMIT_ENABLED"),
		Capacity:     v.GetInt("RATE_LIMIT_CAPACITY"),
		RefillTokens: v.GetInt("RATE_LIMIT_REFILL_TOKENS"),
	}
	if cfg.RateAuth.RefillInterval, err = durationKey(v, "RATE_LIMIT_REFILL_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.RateAuth.TTL, err = durationKey(v, "RATE_LIMIT_TTL"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabaseURL reads only DATABASE_URL, for commands that need nothing else
func LoadDatabaseURL() (string, error) {
	databaseURL := newViper().GetString("DATABASE_URL")
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}
	logDatabaseTarget(databaseURL)
	return databaseURL, nil
}

func durationKey(v *viper.Viper, key string) (time.Duration, error) {
	d, err := ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// ParseDuration accepts Go durations plus a day suffix ("7d")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	return d, nil
}

func logDatabaseTarget(databaseURL string) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, strings.TrimPrefix(u.Path, "/"), user)
}
