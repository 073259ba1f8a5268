package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-chord/pkg/ring"
)

const (
	DiscoveryStatic = "static"
	DiscoveryGossip = "gossip"
	DiscoveryRedis  = "redis"
)

// Config holds Ring Node configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Contact     string            `json:"contact" yaml:"contact"` // "id@address:port", empty starts a new ring
	Discovery   DiscoveryConfig   `json:"discovery" yaml:"discovery"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
	Admin       AdminConfig       `json:"admin" yaml:"admin"`
	Logger      logger.Config     `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	NodeID  int    `json:"node_id" yaml:"node_id"` // -1 derives the id from address:port
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
	Verbose bool   `json:"verbose" yaml:"verbose"`
}

type DiscoveryConfig struct {
	Mode   string       `json:"mode" yaml:"mode"` // "static", "gossip", "redis"
	Gossip GossipConfig `json:"gossip" yaml:"gossip"`
	Redis  RedisConfig  `json:"redis" yaml:"redis"`
}

type GossipConfig struct {
	Port  int      `json:"port" yaml:"port"`
	Seeds []string `json:"seeds" yaml:"seeds"`
}

type RedisConfig struct {
	Addr       string `json:"addr" yaml:"addr"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	Prefix     string `json:"prefix" yaml:"prefix"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

type MaintenanceConfig struct {
	IntervalMS         int  `json:"interval_ms" yaml:"interval_ms"`
	PingTimeoutMS      int  `json:"ping_timeout_ms" yaml:"ping_timeout_ms"`
	MessageTimeoutMS   int  `json:"message_timeout_ms" yaml:"message_timeout_ms"`
	ExecuteTimeoutMS   int  `json:"execute_timeout_ms" yaml:"execute_timeout_ms"`
	EagerFingerUpdates bool `json:"eager_finger_updates" yaml:"eager_finger_updates"`
	Workers            int  `json:"workers" yaml:"workers"`
	QueueSize          int  `json:"queue_size" yaml:"queue_size"`
	JoinRetries        int  `json:"join_retries" yaml:"join_retries"`
}

type AdminConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			NodeID:  -1,
			Address: "127.0.0.1",
			Port:    50000,
		},
		Discovery: DiscoveryConfig{
			Mode: DiscoveryStatic,
			Gossip: GossipConfig{
				Port: 7946,
			},
			Redis: RedisConfig{
				Addr:       "localhost:6379",
				Prefix:     "chord:node:",
				TTLSeconds: 30,
			},
		},
		Maintenance: MaintenanceConfig{
			IntervalMS:       1000,
			PingTimeoutMS:    500,
			MessageTimeoutMS: 2000,
			ExecuteTimeoutMS: 1000,
			Workers:          8,
			QueueSize:        64,
			JoinRetries:      3,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Validate checks values the node cannot start without.
func (c *Config) Validate() error {
	if c.Server.NodeID < -1 || c.Server.NodeID >= ring.Size {
		return fmt.Errorf("server.node_id must be -1 or in [0, %d), got %d", ring.Size, c.Server.NodeID)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Contact != "" {
		if _, err := ring.ParseNode(c.Contact); err != nil {
			return fmt.Errorf("contact: %w", err)
		}
	}
	switch c.Discovery.Mode {
	case "", DiscoveryStatic, DiscoveryGossip, DiscoveryRedis:
	default:
		return fmt.Errorf("unknown discovery mode %q", c.Discovery.Mode)
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required when admin is enabled")
	}
	return nil
}

// NodeID returns the configured id, or the hash of address:port when unset.
func (c *Config) NodeID(address string, port int) int {
	if c.Server.NodeID >= 0 {
		return c.Server.NodeID
	}
	return ring.HashID(fmt.Sprintf("%s:%d", address, port))
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (m MaintenanceConfig) Interval() time.Duration       { return ms(m.IntervalMS) }
func (m MaintenanceConfig) PingTimeout() time.Duration    { return ms(m.PingTimeoutMS) }
func (m MaintenanceConfig) MessageTimeout() time.Duration { return ms(m.MessageTimeoutMS) }
func (m MaintenanceConfig) ExecuteTimeout() time.Duration { return ms(m.ExecuteTimeoutMS) }

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// relativePath rewrites path relative to the working directory. conflux
// refuses absolute paths and paths that climb out of the working directory.
func relativePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("config path %s must be inside the working directory %s", path, wd)
	}
	return rel, nil
}

// Load loads configuration from file. An explicit path must resolve inside
// the working directory.
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "node", "config", env+".yaml")
	}
	configPath, err := relativePath(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	if err := parsedCfg.Validate(); err != nil {
		return nil, err
	}
	return parsedCfg, nil
}
