package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv() {
	os.Setenv("SERVICE_TOKEN_SECRET", "test-secret-32-characters-long!!")
	os.Setenv("DB_PASSWORD", "test")
}

func TestLoad_RiskDefaults(t *testing.T) {
	setRequiredEnv()
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Risk.MaxFailedAttempts != 5 {
		t.Errorf("MaxFailedAttempts: got %d, want 5", cfg.Risk.MaxFailedAttempts)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"AttemptWindow", cfg.Risk.AttemptWindow, 15 * time.Minute},
		{"BlockDuration", cfg.Risk.BlockDuration, 30 * time.Minute},
		{"VelocityWindow", cfg.Risk.VelocityWindow, 10 * time.Minute},
		{"AttemptRetention", cfg.Risk.AttemptRetention, 90 * 24 * time.Hour},
		{"AlertDedupWindow", cfg.Alerts.DedupWindow, time.Hour},
		{"AlertDefaultExpiry", cfg.Alerts.DefaultExpiry, 30 * 24 * time.Hour},
		{"AlertCriticalExpiry", cfg.Alerts.CriticalExpiry, 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Risk.MaxTravelSpeedKmh != 800 {
		t.Errorf("MaxTravelSpeedKmh: got %v, want 800", cfg.Risk.MaxTravelSpeedKmh)
	}
	if cfg.Risk.UnusualHourShare != 0.05 {
		t.Errorf("UnusualHourShare: got %v, want 0.05", cfg.Risk.UnusualHourShare)
	}
}

func TestLoad_CustomRiskValues(t *testing.T) {
	setRequiredEnv()
	os.Setenv("RISK_MAX_FAILED_ATTEMPTS", "10")
	os.Setenv("RISK_ATTEMPT_WINDOW", "5m")
	os.Setenv("RISK_BLOCK_DURATION", "1h")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Risk.MaxFailedAttempts != 10 {
		t.Errorf("MaxFailedAttempts: got %d, want 10", cfg.Risk.MaxFailedAttempts)
	}
	if cfg.Risk.AttemptWindow != 5*time.Minute {
		t.Errorf("AttemptWindow: got %v, want 5m", cfg.Risk.AttemptWindow)
	}
	if cfg.Risk.BlockDuration != time.Hour {
		t.Errorf("BlockDuration: got %v, want 1h", cfg.Risk.BlockDuration)
	}
}

func TestLoad_MissingTokenSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Error("expected error when SERVICE_TOKEN_SECRET is missing")
	}
}

func TestLoad_MissingDBPassword(t *testing.T) {
	os.Clearenv()
	os.Setenv("SERVICE_TOKEN_SECRET", "test-secret-32-characters-long!!")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Error("expected error when DB_PASSWORD is missing")
	}
}

func TestLoad_ShortSecretInProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("SERVICE_TOKEN_SECRET", "short-but-over-16ch")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ENV", "production")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Error("expected error for secret under 32 characters in production")
	}
}

func TestLoad_WeakSecretRejected(t *testing.T) {
	os.Clearenv()
	os.Setenv("SERVICE_TOKEN_SECRET", "changeme")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Error("expected error for weak secret")
	}
}

func TestLoad_TrustedProxiesParsed(t *testing.T) {
	setRequiredEnv()
	os.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if len(cfg.Server.TrustedProxies) != 2 {
		t.Fatalf("expected 2 trusted proxy ranges, got %d", len(cfg.Server.TrustedProxies))
	}
	if cfg.Server.TrustedProxies[1] != "192.168.0.0/16" {
		t.Errorf("expected trimmed CIDR, got %q", cfg.Server.TrustedProxies[1])
	}
}

func TestLoad_EmailEnabledRequiresFromAddress(t *testing.T) {
	setRequiredEnv()
	os.Setenv("EMAIL_ENABLED", "true")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Error("expected error when EMAIL_ENABLED is set without EMAIL_FROM_ADDRESS")
	}
}

func TestRiskConfigValidate_BadThresholds(t *testing.T) {
	setRequiredEnv()
	os.Setenv("RISK_MAX_FAILED_ATTEMPTS", "0")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Error("expected error for zero failure threshold")
	}
}

func TestLoad_WeakSecret16CharsInDevelopment(t *testing.T) {
	os.Clearenv()
	os.Setenv("SERVICE_TOKEN_SECRET", "exactly16chars!!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err != nil {
		t.Errorf("expected 16-character secret to pass in development, got %v", err)
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "risk",
		Password: "pw",
		Name:     "authrisk",
		SSLMode:  "require",
	}

	want := "host=db.internal port=5433 user=risk password=pw dbname=authrisk sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
