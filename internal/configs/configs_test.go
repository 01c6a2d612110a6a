package configs

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("S3_BUCKET_NAME", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected a development JWT secret")
	}
	if cfg.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("expected history limit %d, got %d", DefaultHistoryLimit, cfg.HistoryLimit)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("expected 5s request timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.StorageEnabled() {
		t.Error("storage should be disabled without a bucket")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://localhost/naberya")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("MESSAGE_HISTORY_LIMIT", "500")
	t.Setenv("S3_BUCKET_NAME", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.HistoryLimit != MaxHistoryLimit {
		t.Errorf("expected history limit clamped to %d, got %d", MaxHistoryLimit, cfg.HistoryLimit)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret in production", map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "", "DATABASE_URL": "postgres://x"}},
		{"missing dsn in production", map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "x", "DATABASE_URL": ""}},
		{"privileged port", map[string]string{"ENVIRONMENT": "development", "PORT": "80"}},
		{"incomplete s3 settings", map[string]string{"ENVIRONMENT": "development", "S3_BUCKET_NAME": "avatars", "S3_ENDPOINT": ""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PORT", "")
			t.Setenv("JWT_SECRET", "")
			t.Setenv("DATABASE_URL", "")
			t.Setenv("S3_BUCKET_NAME", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			if _, err := LoadConfig(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
