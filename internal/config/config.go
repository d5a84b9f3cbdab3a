package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Env             string
	DBFile          string
	AdminAddr       string
	APIAddr         string
	BaseURL         string
	UploadsPath     string
	AuthSecret      string
	TokenExpiry     time.Duration
	PresenceWindow  time.Duration
	TypingTTL       time.Duration
	RingTimeout     time.Duration
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}
	presenceWindow, err := time.ParseDuration(getEnv("PRESENCE_WINDOW", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESENCE_WINDOW: %w", err)
	}
	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "6s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TYPING_TTL: %w", err)
	}
	ringTimeout, err := time.ParseDuration(getEnv("RING_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RING_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Env:             getEnv("PARLEY_ENV", "prod"),
		DBFile:          getEnv("PARLEY_DB", "parley.db"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:      os.Getenv("AUTH_SECRET"),
		TokenExpiry:     tokenExpiry,
		PresenceWindow:  presenceWindow,
		TypingTTL:       typingTTL,
		RingTimeout:     ringTimeout,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		PushSubscriber:  getEnv("PUSH_SUBSCRIBER", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.PresenceWindow <= 0 {
		return fmt.Errorf("PRESENCE_WINDOW must be greater than 0")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}
	if c.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be greater than 0")
	}

	// Push is optional, but a half-configured keypair is a deployment mistake.
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
