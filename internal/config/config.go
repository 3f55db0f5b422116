package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Risk     RiskConfig
	Alerts   AlertConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	// TrustedProxies are CIDR ranges whose forwarding headers are honored
	// when resolving the client IP, which is the rate limiting key.
	TrustedProxies []string
}

type AuthConfig struct {
	// ServiceTokenSecret signs the bearer tokens the banking monolith and
	// operator tools use to call this service.
	ServiceTokenSecret string
	ServiceTokenExpiry time.Duration
}

// RiskConfig exposes every threshold the engine uses so limits can be tuned
// without redeploying logic.
type RiskConfig struct {
	// Rate limiting
	MaxFailedAttempts int           // failures per window before a block
	AttemptWindow     time.Duration // rolling window for counters
	BlockDuration     time.Duration // cooldown once blocked
	RecordRetries     int           // conditional-update retries before failing open
	RetryBackoff      time.Duration // base for exponential backoff between retries
	EntryRetention    time.Duration // stale non-blocked entries older than this are swept

	// Pattern learning
	TrustedThreshold  int // occurrences before a device/location is trusted
	MaxTrackedDevices int // bounded map size per user
	MaxTrackedPlaces  int

	// Anomaly detection
	PatternFreezeSeverity int           // findings at or above skip pattern updates
	UnusualHourShare      float64       // histogram share below which a login hour is unusual
	MinHistogramSamples   int           // histogram samples needed before the time rule fires
	VelocityThreshold     int           // failed attempts for the same email...
	VelocityWindow        time.Duration // ...within this window fire the velocity rule
	MaxTravelSpeedKmh     float64       // implied speed above this is impossible travel
	TravelFallbackGap     time.Duration // without coordinates: country change within this gap
	ScoringTimeout        time.Duration // scoring budget per attempt before degrading

	// Ledger retention
	AttemptRetention time.Duration

	SweepInterval time.Duration // background maintenance cadence
}

type AlertConfig struct {
	DedupWindow    time.Duration // same-type alerts within this window are merged
	DefaultExpiry  time.Duration
	CriticalExpiry time.Duration
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	tokenSecret := getEnv("SERVICE_TOKEN_SECRET", "")
	if tokenSecret == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authrisk"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: tokenSecret,
			ServiceTokenExpiry: getEnvAsDuration("SERVICE_TOKEN_EXPIRY", 24*time.Hour),
		},
		Risk: RiskConfig{
			MaxFailedAttempts:     getEnvAsInt("RISK_MAX_FAILED_ATTEMPTS", 5),
			AttemptWindow:         getEnvAsDuration("RISK_ATTEMPT_WINDOW", 15*time.Minute),
			BlockDuration:         getEnvAsDuration("RISK_BLOCK_DURATION", 30*time.Minute),
			RecordRetries:         getEnvAsInt("RISK_RECORD_RETRIES", 3),
			RetryBackoff:          getEnvAsDuration("RISK_RETRY_BACKOFF", 25*time.Millisecond),
			EntryRetention:        getEnvAsDuration("RISK_ENTRY_RETENTION", 24*time.Hour),
			TrustedThreshold:      getEnvAsInt("RISK_TRUSTED_THRESHOLD", 3),
			MaxTrackedDevices:     getEnvAsInt("RISK_MAX_TRACKED_DEVICES", 20),
			MaxTrackedPlaces:      getEnvAsInt("RISK_MAX_TRACKED_PLACES", 20),
			PatternFreezeSeverity: getEnvAsInt("RISK_PATTERN_FREEZE_SEVERITY", 8),
			UnusualHourShare:      getEnvAsFloat("RISK_UNUSUAL_HOUR_SHARE", 0.05),
			MinHistogramSamples:   getEnvAsInt("RISK_MIN_HISTOGRAM_SAMPLES", 10),
			VelocityThreshold:     getEnvAsInt("RISK_VELOCITY_THRESHOLD", 5),
			VelocityWindow:        getEnvAsDuration("RISK_VELOCITY_WINDOW", 10*time.Minute),
			MaxTravelSpeedKmh:     getEnvAsFloat("RISK_MAX_TRAVEL_SPEED_KMH", 800),
			TravelFallbackGap:     getEnvAsDuration("RISK_TRAVEL_FALLBACK_GAP", 2*time.Hour),
			ScoringTimeout:        getEnvAsDuration("RISK_SCORING_TIMEOUT", 2*time.Second),
			AttemptRetention:      getEnvAsDuration("RISK_ATTEMPT_RETENTION", 90*24*time.Hour),
			SweepInterval:         getEnvAsDuration("RISK_SWEEP_INTERVAL", 5*time.Minute),
		},
		Alerts: AlertConfig{
			DedupWindow:    getEnvAsDuration("ALERT_DEDUP_WINDOW", 1*time.Hour),
			DefaultExpiry:  getEnvAsDuration("ALERT_DEFAULT_EXPIRY", 30*24*time.Hour),
			CriticalExpiry: getEnvAsDuration("ALERT_CRITICAL_EXPIRY", 7*24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("EMAIL_AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecret(tokenSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is true")
	}

	return cfg, nil
}

// Validate rejects threshold combinations that would disable the engine or
// make its math meaningless.
func (rc *RiskConfig) Validate() error {
	if rc.MaxFailedAttempts < 1 {
		return fmt.Errorf("RISK_MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if rc.AttemptWindow <= 0 || rc.BlockDuration <= 0 {
		return fmt.Errorf("RISK_ATTEMPT_WINDOW and RISK_BLOCK_DURATION must be positive")
	}
	if rc.UnusualHourShare < 0 || rc.UnusualHourShare > 1 {
		return fmt.Errorf("RISK_UNUSUAL_HOUR_SHARE must be within [0, 1]")
	}
	if rc.MaxTravelSpeedKmh <= 0 {
		return fmt.Errorf("RISK_MAX_TRAVEL_SPEED_KMH must be positive")
	}
	if rc.TrustedThreshold < 1 {
		return fmt.Errorf("RISK_TRUSTED_THRESHOLD must be at least 1")
	}
	return nil
}

// validateTokenSecret enforces minimum security standards for the signing secret
func validateTokenSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SERVICE_TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
