package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv applies CONTINUITY_* environment overrides
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("CONTINUITY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("CONTINUITY_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("CONTINUITY_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	// Audit storage
	cfg.Audit.Backend = GetEnvOrDefault("CONTINUITY_AUDIT_BACKEND", cfg.Audit.Backend)
	cfg.Audit.Dir = GetEnvOrDefault("CONTINUITY_AUDIT_DIR", cfg.Audit.Dir)
	cfg.Audit.SigningSecret = GetEnvOrDefault("CONTINUITY_AUDIT_SECRET", cfg.Audit.SigningSecret)
	cfg.Audit.Database.Host = GetEnvOrDefault("CONTINUITY_DB_HOST", cfg.Audit.Database.Host)
	cfg.Audit.Database.User = GetEnvOrDefault("CONTINUITY_DB_USER", cfg.Audit.Database.User)
	cfg.Audit.Database.Password = GetEnvOrDefault("CONTINUITY_DB_PASSWORD", cfg.Audit.Database.Password)
	cfg.Audit.Database.Database = GetEnvOrDefault("CONTINUITY_DB_NAME", cfg.Audit.Database.Database)
	if port := os.Getenv("CONTINUITY_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Audit.Database.Port = p
		}
	}
	cfg.Audit.S3.Endpoint = GetEnvOrDefault("CONTINUITY_S3_ENDPOINT", cfg.Audit.S3.Endpoint)
	cfg.Audit.S3.Bucket = GetEnvOrDefault("CONTINUITY_S3_BUCKET", cfg.Audit.S3.Bucket)
	cfg.Audit.S3.AccessKey = GetEnvOrDefault("CONTINUITY_S3_ACCESS_KEY", cfg.Audit.S3.AccessKey)
	cfg.Audit.S3.SecretKey = GetEnvOrDefault("CONTINUITY_S3_SECRET_KEY", cfg.Audit.S3.SecretKey)

	// Action backends
	cfg.Actions.NATS.URL = GetEnvOrDefault("CONTINUITY_NATS_URL", cfg.Actions.NATS.URL)
	if endpoints := os.Getenv("CONTINUITY_ETCD_ENDPOINTS"); endpoints != "" {
		cfg.Actions.Etcd.Endpoints = strings.Split(endpoints, ",")
	}
	cfg.Actions.Agent.Token = GetEnvOrDefault("CONTINUITY_AGENT_TOKEN", cfg.Actions.Agent.Token)

	cfg.Heartbeats.Backend = GetEnvOrDefault("CONTINUITY_HEARTBEAT_BACKEND", cfg.Heartbeats.Backend)
	cfg.Heartbeats.Addr = GetEnvOrDefault("CONTINUITY_REDIS_ADDR", cfg.Heartbeats.Addr)
	cfg.Heartbeats.Password = GetEnvOrDefault("CONTINUITY_REDIS_PASSWORD", cfg.Heartbeats.Password)

	cfg.Auth.JWTSecret = GetEnvOrDefault("CONTINUITY_JWT_SECRET", cfg.Auth.JWTSecret)

	if interval := os.Getenv("CONTINUITY_MONITOR_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Monitor.Interval = d
		}
	}

	cfg.Topology.ClusterFile = GetEnvOrDefault("CONTINUITY_CLUSTER_FILE", cfg.Topology.ClusterFile)
	cfg.Topology.PolicyFile = GetEnvOrDefault("CONTINUITY_POLICY_FILE", cfg.Topology.PolicyFile)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
