package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreCookie = "cookie"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds kiosk configuration
type Config struct {
	Port           string
	Host           string
	AllowedOrigins []string
	ServerName     string

	// Backend service
	BackendURL            string
	ChannelURL            string
	BackendTimeout        time.Duration
	CreateSessionAttempts int

	// Session persistence
	StoreBackend     string // cookie, redis or memory
	StorePath        string // cookie jar file
	SessionRetention time.Duration
	CookieSecret     string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisKeyPrefix   string

	// Session revalidation and push channel
	RevalidateInterval   time.Duration
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int

	// Staff reset
	StaffPINHash string // bcrypt hash, empty disables reset

	// Browser notifications
	EnablePush   bool
	VAPIDKeyPath string
	VAPIDSubject string

	// Security middleware configuration
	EnableRateLimit  bool
	RateLimitPerMin  int
	EnableRequestLog bool

	// Logging
	LogLevel  string
	LogFormat string // json or console
}

// Default returns the built-in configuration
func Default() *Config {
	home := os.Getenv("HOME")
	return &Config{
		Port:           "4280",
		Host:           "localhost",
		AllowedOrigins: []string{"*"},
		ServerName:     "Tableside Kiosk",

		BackendURL:            "http://localhost:3000",
		ChannelURL:            "ws://localhost:3000/ws",
		BackendTimeout:        10 * time.Second,
		CreateSessionAttempts: 3,

		StoreBackend:     StoreCookie,
		StorePath:        filepath.Join(home, ".tableside", "cookies.json"),
		SessionRetention: 24 * time.Hour,
		CookieSecret:     "tableside-cookie-secret-change-in-production",
		RedisAddr:        "localhost:6379",
		RedisKeyPrefix:   "tableside:kiosk:",

		RevalidateInterval:   2 * time.Minute,
		HandshakeTimeout:     5 * time.Second,
		PingInterval:         30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 10,

		VAPIDKeyPath: filepath.Join(home, ".tableside", "keys"),
		VAPIDSubject: "mailto:kiosk@tableside.local",

		EnableRateLimit:  true,
		RateLimitPerMin:  300,
		EnableRequestLog: true,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// LoadConfig loads configuration from defaults, an optional TOML file named
// by KIOSK_CONFIG, an optional .env file and finally environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("KIOSK_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(getEnv("KIOSK_ENV_FILE", ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a TOML file
func (c *Config) LoadFile(path string) error {
	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return raw.apply(c)
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Host = getEnv("HOST", c.Host)
	c.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.ServerName = getEnv("SERVER_NAME", c.ServerName)

	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.ChannelURL = getEnv("CHANNEL_URL", c.ChannelURL)
	c.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", c.BackendTimeout)
	c.CreateSessionAttempts = getEnvInt("CREATE_SESSION_ATTEMPTS", c.CreateSessionAttempts)

	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.StorePath = getEnv("STORE_PATH", c.StorePath)
	c.SessionRetention = getEnvDuration("SESSION_RETENTION", c.SessionRetention)
	c.CookieSecret = getEnv("COOKIE_SECRET", c.CookieSecret)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", c.RedisKeyPrefix)

	c.RevalidateInterval = getEnvDuration("REVALIDATE_INTERVAL", c.RevalidateInterval)
	c.HandshakeTimeout = getEnvDuration("HANDSHAKE_TIMEOUT", c.HandshakeTimeout)
	c.PingInterval = getEnvDuration("PING_INTERVAL", c.PingInterval)
	c.ReconnectBaseDelay = getEnvDuration("RECONNECT_BASE_DELAY", c.ReconnectBaseDelay)
	c.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", c.MaxReconnectAttempts)

	c.StaffPINHash = getEnv("STAFF_PIN_HASH", c.StaffPINHash)

	c.EnablePush = getEnvBool("ENABLE_PUSH", c.EnablePush)
	c.VAPIDKeyPath = getEnv("VAPID_KEY_PATH", c.VAPIDKeyPath)
	c.VAPIDSubject = getEnv("VAPID_SUBJECT", c.VAPIDSubject)

	c.EnableRateLimit = getEnvBool("ENABLE_RATE_LIMIT", c.EnableRateLimit)
	c.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", c.RateLimitPerMin)
	c.EnableRequestLog = getEnvBool("ENABLE_REQUEST_LOG", c.EnableRequestLog)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks the configuration for values the kiosk cannot run with
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.BackendURL)
	}
	if u, err := url.Parse(c.ChannelURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid channel url %q: scheme must be ws or wss", c.ChannelURL)
	}
	switch c.StoreBackend {
	case StoreCookie:
		if c.StorePath == "" {
			return fmt.Errorf("store path is required for the cookie store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("session retention must be positive")
	}
	if c.CookieSecret == "" {
		return fmt.Errorf("cookie secret is required")
	}
	if c.RevalidateInterval <= 0 || c.HandshakeTimeout <= 0 || c.PingInterval <= 0 || c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("timer intervals must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}
	if c.CreateSessionAttempts < 1 {
		return fmt.Errorf("create session attempts must be at least 1")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// fileConfig mirrors Config with string durations so TOML files can use "2m"
type fileConfig struct {
	Port           *string  `toml:"port"`
	Host           *string  `toml:"host"`
	AllowedOrigins []string `toml:"allowed_origins"`
	ServerName     *string  `toml:"server_name"`

	BackendURL            *string `toml:"backend_url"`
	ChannelURL            *string `toml:"channel_url"`
	BackendTimeout        *string `toml:"backend_timeout"`
	CreateSessionAttempts *int    `toml:"create_session_attempts"`

	StoreBackend     *string `toml:"store_backend"`
	StorePath        *string `toml:"store_path"`
	SessionRetention *string `toml:"session_retention"`
	CookieSecret     *string `toml:"cookie_secret"`
	RedisAddr        *string `toml:"redis_addr"`
	RedisPassword    *string `toml:"redis_password"`
	RedisDB          *int    `toml:"redis_db"`
	RedisKeyPrefix   *string `toml:"redis_key_prefix"`

	RevalidateInterval   *string `toml:"revalidate_interval"`
	HandshakeTimeout     *string `toml:"handshake_timeout"`
	PingInterval         *string `toml:"ping_interval"`
	ReconnectBaseDelay   *string `toml:"reconnect_base_delay"`
	MaxReconnectAttempts *int    `toml:"max_reconnect_attempts"`

	StaffPINHash *string `toml:"staff_pin_hash"`

	EnablePush   *bool   `toml:"enable_push"`
	VAPIDKeyPath *string `toml:"vapid_key_path"`
	VAPIDSubject *string `toml:"vapid_subject"`

	EnableRateLimit  *bool `toml:"enable_rate_limit"`
	RateLimitPerMin  *int  `toml:"rate_limit_per_min"`
	EnableRequestLog *bool `toml:"enable_request_log"`

	LogLevel  *string `toml:"log_level"`
	LogFormat *string `toml:"log_format"`
}

func (f *fileConfig) apply(c *Config) error {
	setString(&c.Port, f.Port)
	setString(&c.Host, f.Host)
	if len(f.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.AllowedOrigins
	}
	setString(&c.ServerName, f.ServerName)
	setString(&c.BackendURL, f.BackendURL)
	setString(&c.ChannelURL, f.ChannelURL)
	setInt(&c.CreateSessionAttempts, f.CreateSessionAttempts)
	setString(&c.StoreBackend, f.StoreBackend)
	setString(&c.StorePath, f.StorePath)
	setString(&c.CookieSecret, f.CookieSecret)
	setString(&c.RedisAddr, f.RedisAddr)
	setString(&c.RedisPassword, f.RedisPassword)
	setInt(&c.RedisDB, f.RedisDB)
	setString(&c.RedisKeyPrefix, f.RedisKeyPrefix)
	setInt(&c.MaxReconnectAttempts, f.MaxReconnectAttempts)
	setString(&c.StaffPINHash, f.StaffPINHash)
	setBool(&c.EnablePush, f.EnablePush)
	setString(&c.VAPIDKeyPath, f.VAPIDKeyPath)
	setString(&c.VAPIDSubject, f.VAPIDSubject)
	setBool(&c.EnableRateLimit, f.EnableRateLimit)
	setInt(&c.RateLimitPerMin, f.RateLimitPerMin)
	setBool(&c.EnableRequestLog, f.EnableRequestLog)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)

	durations := []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"backend_timeout", &c.BackendTimeout, f.BackendTimeout},
		{"session_retention", &c.SessionRetention, f.SessionRetention},
		{"revalidate_interval", &c.RevalidateInterval, f.RevalidateInterval},
		{"handshake_timeout", &c.HandshakeTimeout, f.HandshakeTimeout},
		{"ping_interval", &c.PingInterval, f.PingInterval},
		{"reconnect_base_delay", &c.ReconnectBaseDelay, f.ReconnectBaseDelay},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, *d.src, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
