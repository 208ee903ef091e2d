// Package config loads agent configuration from environment variables.
// Every knob has a default so a bare environment produces a working
// single-host deployment; a .env file is loaded by the entry point
// before any FromEnv constructor runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hemostat/hemostat/pkg/bus"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvSeconds reads an integer number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// Bus returns the shared Redis bus settings.
func Bus() bus.Config {
	return bus.Config{
		Addr:       fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "redis"), getEnv("REDIS_PORT", "6379")),
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         getEnvInt("REDIS_DB", 0),
		RetryMax:   getEnvInt("RETRY_MAX", 3),
		RetryDelay: getEnvSeconds("RETRY_DELAY", time.Second),
	}
}

// Observer holds the Observer agent settings.
type Observer struct {
	PollInterval    time.Duration
	ThresholdCPU    float64
	ThresholdMemory float64
	RetryMax        int
	RetryDelay      time.Duration
}

func ObserverFromEnv() Observer {
	return Observer{
		PollInterval:    getEnvSeconds("POLL_INTERVAL", 30*time.Second),
		ThresholdCPU:    getEnvFloat("THRESHOLD_CPU_PERCENT", 85),
		ThresholdMemory: getEnvFloat("THRESHOLD_MEMORY_PERCENT", 80),
		RetryMax:        getEnvInt("RETRY_MAX", 3),
		RetryDelay:      getEnvSeconds("RETRY_DELAY", time.Second),
	}
}

// Decider holds the Decider agent settings.
type Decider struct {
	ConfidenceThreshold float64
	HistorySize         int
	HistoryTTL          time.Duration
	AIModel             string
	AIFallbackEnabled   bool // false disables AI analysis entirely
}

func DeciderFromEnv() Decider {
	return Decider{
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.7),
		HistorySize:         getEnvInt("HISTORY_SIZE", 10),
		HistoryTTL:          getEnvSeconds("HISTORY_TTL", time.Hour),
		AIModel:             getEnv("AI_MODEL", ""),
		AIFallbackEnabled:   getEnvBool("AI_FALLBACK_ENABLED", true),
	}
}

// Actuator holds the Actuator agent settings.
type Actuator struct {
	Cooldown             time.Duration
	MaxRetriesPerHour    int
	DryRun               bool
	EnforceExecAllowlist bool
	RetryMax             int
	RetryDelay           time.Duration
}

func ActuatorFromEnv() Actuator {
	return Actuator{
		Cooldown:             getEnvSeconds("COOLDOWN_SECONDS", time.Hour),
		MaxRetriesPerHour:    getEnvInt("MAX_RETRIES_PER_HOUR", 3),
		DryRun:               getEnvBool("DRY_RUN", false),
		EnforceExecAllowlist: getEnvBool("ENFORCE_EXEC_ALLOWLIST", false),
		RetryMax:             getEnvInt("RETRY_MAX", 3),
		RetryDelay:           getEnvSeconds("RETRY_DELAY", time.Second),
	}
}

// Notifier holds the Notifier agent settings.
type Notifier struct {
	WebhookURL string
	Enabled    bool
	EventTTL   time.Duration
	MaxEvents  int64
	DedupeTTL  time.Duration
	RetryMax   int
	RetryDelay time.Duration
}

func NotifierFromEnv() Notifier {
	return Notifier{
		WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		Enabled:    getEnvBool("ALERT_ENABLED", true),
		EventTTL:   getEnvSeconds("ALERT_EVENT_TTL", time.Hour),
		MaxEvents:  int64(getEnvInt("ALERT_MAX_EVENTS", 100)),
		DedupeTTL:  getEnvSeconds("ALERT_DEDUPE_TTL", time.Minute),
		RetryMax:   getEnvInt("RETRY_MAX", 3),
		RetryDelay: getEnvSeconds("RETRY_DELAY", time.Second),
	}
}

// Scanner holds the vulnerability scanner settings.
type Scanner struct {
	ZapHost      string
	ZapPort      string
	ScanInterval time.Duration
	Targets      []string
	MaxScanTime  time.Duration
}

func ScannerFromEnv() Scanner {
	var targets []string
	for _, t := range strings.Split(getEnv("VULNSCANNER_TARGETS", ""), ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	return Scanner{
		ZapHost:      getEnv("ZAP_HOST", "zap"),
		ZapPort:      getEnv("ZAP_PORT", "8080"),
		ScanInterval: getEnvSeconds("VULNSCANNER_INTERVAL", time.Hour),
		Targets:      targets,
		MaxScanTime:  getEnvSeconds("VULNSCANNER_MAX_TIME", time.Hour),
	}
}

// Dashboard holds the read-model HTTP API settings.
type Dashboard struct {
	Port string
}

func DashboardFromEnv() Dashboard {
	return Dashboard{Port: getEnv("HTTP_PORT", "8080")}
}

// Logging holds the process-wide log settings.
type Logging struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

func LoggingFromEnv() Logging {
	return Logging{
		Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}
