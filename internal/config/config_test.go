package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	setEnv := func(t *testing.T, kv map[string]string) {
		t.Helper()
		for k, v := range kv {
			old, had := os.LookupEnv(k)
			_ = os.Setenv(k, v)
			t.Cleanup(func() {
				if had {
					_ = os.Setenv(k, old)
				} else {
					_ = os.Unsetenv(k)
				}
			})
		}
	}

	t.Run("Defaults", func(t *testing.T) {
		setEnv(t, map[string]string{"AUTH_SECRET": "secret"})

		cfg, err := Load(false)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.TokenExpiry != 24*time.Hour {
			t.Errorf("expected 24h token expiry, got %s", cfg.TokenExpiry)
		}
		if cfg.PresenceWindow != 5*time.Minute {
			t.Errorf("expected 5m presence window, got %s", cfg.PresenceWindow)
		}
		if cfg.TypingTTL != 6*time.Second {
			t.Errorf("expected 6s typing TTL, got %s", cfg.TypingTTL)
		}
		if cfg.RingTimeout != 30*time.Second {
			t.Errorf("expected 30s ring timeout, got %s", cfg.RingTimeout)
		}
	})

	t.Run("SecretRequired", func(t *testing.T) {
		setEnv(t, map[string]string{"AUTH_SECRET": ""})
		_ = os.Unsetenv("AUTH_SECRET")

		if _, err := Load(false); err == nil {
			t.Error("expected error without AUTH_SECRET")
		}
		// CLI mode talks to a running server and needs no secret.
		if _, err := Load(true); err != nil {
			t.Errorf("cli mode must not require a secret, got %v", err)
		}
	})

	t.Run("HalfConfiguredVAPID", func(t *testing.T) {
		setEnv(t, map[string]string{
			"AUTH_SECRET":      "secret",
			"VAPID_PUBLIC_KEY": "pub-only",
		})

		if _, err := Load(false); err == nil {
			t.Error("expected error for public key without private key")
		}
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		setEnv(t, map[string]string{
			"AUTH_SECRET":     "secret",
			"PRESENCE_WINDOW": "not-a-duration",
		})

		if _, err := Load(false); err == nil {
			t.Error("expected error for malformed duration")
		}
	})
}
