// Package config provides configuration for the mission engine.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	InternalPort int

	// Storage
	StoreBackend string // sqlite or firestore
	DatabaseURL  string
	GCPProject   string
	PubSubTopic  string

	// Experts
	ExpertsFile     string
	ExpertMode      string
	SynthesisExpert string

	// Timeouts
	ExpertTimeout time.Duration
	StepTimeout   time.Duration
	CancelGrace   time.Duration

	// Execution
	MaxInFlight      int
	EventBufferSize  int
	AutonomousRounds int
	CheckpointEvery  int
	PolicyFile       string

	// Checkpoint oversight
	CheckpointStaleAfter time.Duration
	StaleSweepInterval   time.Duration

	// Persistence retry
	PersistAttempts int
	PersistBackoff  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		InternalPort:         getEnvInt("INTERNAL_PORT", 8081),
		StoreBackend:         getEnv("STORE_BACKEND", "sqlite"),
		DatabaseURL:          getEnv("DATABASE_URL", "file:missions.db?cache=shared&mode=rwc"),
		GCPProject:           getEnv("GCP_PROJECT", ""),
		PubSubTopic:          getEnv("PUBSUB_TOPIC", ""),
		ExpertsFile:          getEnv("EXPERTS_FILE", "experts.yaml"),
		ExpertMode:           getEnv("EXPERT_MODE", ""),
		SynthesisExpert:      getEnv("SYNTHESIS_EXPERT", ""),
		ExpertTimeout:        getEnvMillis("EXPERT_TIMEOUT_MS", 120000),
		StepTimeout:          getEnvMillis("STEP_TIMEOUT_MS", 300000),
		CancelGrace:          getEnvMillis("CANCEL_GRACE_MS", 2000),
		MaxInFlight:          getEnvInt("MAX_IN_FLIGHT", 4),
		EventBufferSize:      getEnvInt("EVENT_BUFFER_SIZE", 256),
		AutonomousRounds:     getEnvInt("AUTONOMOUS_ROUNDS", 2),
		CheckpointEvery:      getEnvInt("CHECKPOINT_EVERY", 1),
		PolicyFile:           getEnv("CHECKPOINT_POLICY_FILE", ""),
		CheckpointStaleAfter: getEnvMillis("CHECKPOINT_STALE_AFTER_MS", 3600000),
		StaleSweepInterval:   getEnvMillis("STALE_SWEEP_INTERVAL_MS", 30000),
		PersistAttempts:      getEnvInt("PERSIST_ATTEMPTS", 5),
		PersistBackoff:       getEnvMillis("PERSIST_BACKOFF_MS", 100),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
