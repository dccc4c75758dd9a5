// Package config loads engine settings and cluster topology documents
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/continuity/internal/audit"
	"github.com/FairForge/continuity/internal/database"
	"github.com/FairForge/continuity/internal/ha"
	"github.com/FairForge/continuity/internal/logging"
)

// Audit backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Heartbeat backends
const (
	HeartbeatsMemory = "memory"
	HeartbeatsRedis  = "redis"
)

// Heartbeat probes. Static takes node statuses from the cluster document.
const (
	ProbeStatic = "static"
	ProbeHTTP   = "http"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    logging.Config   `yaml:"logging"`
	Engine     ha.Tuning        `yaml:"engine"`
	Monitor    ha.MonitorConfig `yaml:"monitor"`
	Tracker    ha.TrackerConfig `yaml:"tracker"`
	Audit      AuditConfig      `yaml:"audit"`
	Actions    ActionsConfig    `yaml:"actions"`
	Heartbeats HeartbeatConfig  `yaml:"heartbeats"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Topology   TopologyConfig   `yaml:"topology"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuditConfig struct {
	Backend       string                 `yaml:"backend"` // memory, file, postgres, s3
	Dir           string                 `yaml:"dir"`
	Database      database.Config        `yaml:"database"`
	S3            S3Config               `yaml:"s3"`
	SigningSecret string                 `yaml:"signing_secret"`
	Confidence    audit.ConfidenceConfig `yaml:"confidence"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Options converts the section to store options
func (c S3Config) Options() audit.S3Options {
	return audit.S3Options{
		Endpoint:     c.Endpoint,
		Region:       c.Region,
		Bucket:       c.Bucket,
		Prefix:       c.Prefix,
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		UsePathStyle: c.UsePathStyle,
	}
}

type ActionsConfig struct {
	NATS  NATSConfig  `yaml:"nats"`
	Etcd  EtcdConfig  `yaml:"etcd"`
	Agent AgentConfig `yaml:"agent"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type AgentConfig struct {
	Port    int           `yaml:"port"`
	Scheme  string        `yaml:"scheme"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"token"`
}

type HeartbeatConfig struct {
	Backend   string        `yaml:"backend"` // memory, redis
	Probe     string        `yaml:"probe"`   // static, http
	ProbePort int           `yaml:"probe_port"`
	ProbePath string        `yaml:"probe_path"`
	History   int           `yaml:"history"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type TopologyConfig struct {
	ClusterFile string `yaml:"cluster_file"`
	PolicyFile  string `yaml:"policy_file"`
	Watch       bool   `yaml:"watch"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON},
		Engine:  ha.DefaultTuning(),
		Monitor: ha.MonitorConfig{Concurrency: 8, ProbeTimeout: 2 * time.Second, Interval: 10 * time.Second},
		Tracker: ha.TrackerConfig{FailureThreshold: 3, RecoveryThreshold: 2},
		Audit: AuditConfig{
			Backend:    BackendFile,
			Dir:        "audit",
			Confidence: audit.DefaultConfidenceConfig(),
			Database: database.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "continuity",
				User:     "continuity",
				SSLMode:  "disable",
			},
			S3: S3Config{Region: "us-east-1", Prefix: "audit-packs"},
		},
		Actions: ActionsConfig{
			NATS:  NATSConfig{Subject: "continuity.failover"},
			Etcd:  EtcdConfig{Prefix: "/continuity/services", DialTimeout: 5 * time.Second},
			Agent: AgentConfig{Port: 9100, Scheme: "http", Timeout: 30 * time.Second},
		},
		Heartbeats: HeartbeatConfig{
			Backend:   HeartbeatsMemory,
			Probe:     ProbeStatic,
			ProbePort: 9100,
			ProbePath: "/health",
			History:   100,
			TTL:       5 * time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		Topology:  TopologyConfig{ClusterFile: "cluster.yaml", PolicyFile: "policy.yaml"},
	}
}

// Load reads a settings file over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &ha.ConfigError{Field: path, Msg: err.Error()}
			}
		}
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ha.ConfigError{Field: "server.port", Msg: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if err := c.Logging.Validate(); err != nil {
		return &ha.ConfigError{Field: "logging", Msg: err.Error()}
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.Monitor.Concurrency < 1 {
		return &ha.ConfigError{Field: "monitor.concurrency", Msg: "must be >= 1"}
	}
	if c.Tracker.FailureThreshold < 1 || c.Tracker.RecoveryThreshold < 1 {
		return &ha.ConfigError{Field: "tracker", Msg: "thresholds must be >= 1"}
	}
	switch c.Audit.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Audit.Dir == "" {
			return &ha.ConfigError{Field: "audit.dir", Msg: "is required for the file backend"}
		}
	case BackendPostgres:
		if c.Audit.Database.Host == "" {
			return &ha.ConfigError{Field: "audit.database.host", Msg: "is required for the postgres backend"}
		}
	case BackendS3:
		if c.Audit.S3.Bucket == "" {
			return &ha.ConfigError{Field: "audit.s3.bucket", Msg: "is required for the s3 backend"}
		}
	default:
		return &ha.ConfigError{Field: "audit.backend", Msg: fmt.Sprintf("unknown backend %q", c.Audit.Backend)}
	}
	switch c.Heartbeats.Backend {
	case HeartbeatsMemory:
	case HeartbeatsRedis:
		if c.Heartbeats.Addr == "" {
			return &ha.ConfigError{Field: "heartbeats.addr", Msg: "is required for the redis backend"}
		}
	default:
		return &ha.ConfigError{Field: "heartbeats.backend", Msg: fmt.Sprintf("unknown backend %q", c.Heartbeats.Backend)}
	}
	switch c.Heartbeats.Probe {
	case ProbeStatic, ProbeHTTP:
	default:
		return &ha.ConfigError{Field: "heartbeats.probe", Msg: fmt.Sprintf("unknown probe %q", c.Heartbeats.Probe)}
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return &ha.ConfigError{Field: "rate_limit", Msg: "must not be negative"}
	}
	return nil
}
