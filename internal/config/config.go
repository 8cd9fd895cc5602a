// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration. Every value has a default suitable
// for a local single-node deployment; the MySQL settings are only required
// when STORE_DRIVER=mysql.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	StoreDriver string // "file" (default) or "mysql"
	DataDir     string // data directory for the file store
	DBUser      string // mysql username
	DBPass      string // mysql password (optional)
	DBHost      string // mysql host
	DBPort      string // mysql port
	DBName      string // mysql database name

	BcryptCost int           // bcrypt cost for password hashing
	SessionTTL time.Duration // validity window of a session token

	DefaultUpstream  string        // endpoint used when a key is added without one
	UpstreamTimeout  time.Duration // bound on each upstream chat-completion call
	FailureThreshold int           // consecutive transient failures before cooldown
	CooldownBase     time.Duration // first cooldown window
	CooldownMax      time.Duration // cooldown window ceiling

	AuditConsumerEnabled bool // run the key-event audit consumer
}

// Load reads the configuration from the environment. MySQL settings are
// enforced with must() only when that driver is selected, so a file-backed
// deployment needs no database variables at all.
func Load() Config {
	cfg := Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: envStr("APP_PORT", "8081"),

		StoreDriver: envStr("STORE_DRIVER", "file"),
		DataDir:     envStr("DATA_DIR", "./data"),

		BcryptCost: envInt("BCRYPT_COST", 10),
		SessionTTL: envDur("SESSION_TTL", 168*time.Hour),

		DefaultUpstream:  envStr("DEFAULT_UPSTREAM", "https://integrate.api.nvidia.com/v1"),
		UpstreamTimeout:  envDur("UPSTREAM_TIMEOUT", 30*time.Second),
		FailureThreshold: envInt("FAILURE_THRESHOLD", 3),
		CooldownBase:     envDur("COOLDOWN_BASE", 30*time.Second),
		CooldownMax:      envDur("COOLDOWN_MAX", 30*time.Minute),

		AuditConsumerEnabled: envBool("AUDIT_CONSUMER_ENABLED", false),
	}
	if cfg.StoreDriver == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	return cfg
}

// must retrieves a required environment variable. If the variable is unset
// or empty, the process logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
