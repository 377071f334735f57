// Package config loads service configuration from the environment, with an
// optional YAML deployment profile overriding role identities and limits.
package config

import "os"

// Config holds configuration for the executor and brain services.
type Config struct {
	Port     string
	LogLevel string

	// Role identities on the token ledger.
	OwnerIdentity   string
	ManagerIdentity string
	CustodyIdentity string

	// JWTSigningKey is the shared HMAC key for executor API tokens.
	JWTSigningKey string

	// Event store backends. SQLitePath is always used; PostgresURL adds a
	// second durable recorder when set.
	SQLitePath  string
	PostgresURL string

	// RedisAddr enables the distributed rate limiter when set.
	RedisAddr string

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string

	// ExecutorURL is where the brain reaches the executor API.
	ExecutorURL string

	// Rate limit policy for the executor API.
	RateLimitRPM   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "5001"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "vault_events.db"
	}

	executorURL := os.Getenv("EXECUTOR_URL")
	if executorURL == "" {
		executorURL = "http://localhost:5001"
	}

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		// Dev-only default; deployments must override.
		signingKey = "dev-signing-key"
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		OwnerIdentity:   os.Getenv("OWNER_IDENTITY"),
		ManagerIdentity: os.Getenv("MANAGER_IDENTITY"),
		CustodyIdentity: os.Getenv("CUSTODY_IDENTITY"),
		JWTSigningKey:   signingKey,
		SQLitePath:      sqlitePath,
		PostgresURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		ExecutorURL:     executorURL,
		RateLimitRPM:    120,
		RateLimitBurst:  20,
	}
}
