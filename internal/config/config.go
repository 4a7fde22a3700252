// Package config loads the relay's environment-driven configuration,
// following the teacher's convention of a typed config struct populated
// at boot (see server/auth/token's jsonconf parsing) rather than scattered
// os.Getenv calls through the codebase.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Tunables, defaults per spec.md §6.
const (
	DefaultPort           = "3000"
	DefaultMaxPayloadSize = 5 * 1024 * 1024  // 5 MiB
	DefaultFrameCap       = 10 * 1024 * 1024 // 10 MiB
	DefaultQueueTTL       = 1800 * time.Second
	DefaultMaxQueueLen    = 100
	DefaultSyncCodeTTL    = 300 * time.Second
	DefaultMaxTokens      = 100.0
	DefaultRefillRate     = 10.0 // tokens/sec
	DefaultPresenceTTL    = time.Hour
	DefaultInviteTTL      = 24 * time.Hour
	DefaultKVConnTimeout  = 10 * time.Second
)

// Config is the complete set of boot-time settings for a relay instance.
type Config struct {
	Port string

	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	DatabaseURL string

	// Identity of this relay instance in the cluster. Defaults to "inst-"
	// plus the first 8 characters of a random UUID if unset, so each boot
	// without INSTANCE_ID gets a fresh id (modelled on the teacher's
	// per-node fingerprint in server/cluster.go).
	InstanceID string

	// Optional shared-secret gate on the websocket upgrade, off when
	// empty (server/api_key.go's outermost-layer check).
	APIKey string

	MaxPayloadSize int64
	FrameCap       int64
	QueueTTL       time.Duration
	MaxQueueLen    int
	SyncCodeTTL    time.Duration
	MaxTokens      float64
	RefillRate     float64
	PresenceTTL    time.Duration
	InviteTTL      time.Duration
	KVConnTimeout  time.Duration
}

// Load reads configuration from the process environment, loading a local
// .env file first if present (dev convenience; missing .env is not an
// error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getenv("PORT", DefaultPort),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		InstanceID:    os.Getenv("INSTANCE_ID"),
		APIKey:        os.Getenv("RELAY_API_KEY"),

		MaxPayloadSize: getenvInt64("MAX_PAYLOAD_SIZE", DefaultMaxPayloadSize),
		FrameCap:       getenvInt64("FRAME_CAP", DefaultFrameCap),
		QueueTTL:       getenvDurationSeconds("QUEUE_TTL", DefaultQueueTTL),
		MaxQueueLen:    int(getenvInt64("MAX_QUEUE_LEN", DefaultMaxQueueLen)),
		SyncCodeTTL:    getenvDurationSeconds("SYNC_CODE_TTL", DefaultSyncCodeTTL),
		MaxTokens:      getenvFloat("MAX_TOKENS", DefaultMaxTokens),
		RefillRate:     getenvFloat("REFILL_RATE", DefaultRefillRate),
		PresenceTTL:    DefaultPresenceTTL,
		InviteTTL:      DefaultInviteTTL,
		KVConnTimeout:  DefaultKVConnTimeout,
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = randomInstanceID()
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDurationSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func randomInstanceID() string {
	return "inst-" + uuid.NewString()[:8]
}
