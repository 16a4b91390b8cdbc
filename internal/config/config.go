// Package config loads the layered GrepWise configuration: built-in
// defaults, overlaid by an optional YAML file, overlaid by environment
// variables. This mirrors the teacher's pkg/config precedence
// (defaults -> file -> env) with the Supabase/Marble-specific sections
// replaced by the knobs the log pipeline actually needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/grepwise/grepwise/infrastructure/utils"
)

// ServerConfig controls the HTTP server (ingestion, search, admin API).
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// LoggingConfig controls the ambient structured logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// CacheConfig controls the search cache (C4).
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"CACHE_ENABLED"`
	MaxSize int  `json:"max_size" yaml:"max_size" env:"CACHE_MAX_SIZE"`
	TTLMs   int  `json:"ttl_ms" yaml:"ttl_ms" env:"CACHE_TTL_MS"`
}

// PartitionConfig controls the index engine's partitioning (C3).
type PartitionConfig struct {
	Type            string `json:"type" yaml:"type" env:"PARTITION_TYPE"`
	MaxActive       int    `json:"max_active" yaml:"max_active" env:"PARTITION_MAX_ACTIVE"`
	AutoArchive     bool   `json:"auto_archive" yaml:"auto_archive" env:"PARTITION_AUTO_ARCHIVE"`
}

// AlarmConfig controls the alarm engine's evaluation cadence (C9).
type AlarmConfig struct {
	EvaluationIntervalMs int `json:"evaluation_interval_ms" yaml:"evaluation_interval_ms" env:"ALARM_EVALUATION_INTERVAL_MS"`
}

// ClusterConfig controls cluster membership and sharding (C10).
type ClusterConfig struct {
	NodeID                    string `json:"node_id" yaml:"node_id" env:"CLUSTER_NODE_ID"`
	SelfURL                   string `json:"self_url" yaml:"self_url" env:"CLUSTER_SELF_URL"`
	Peers                     string `json:"peers" yaml:"peers" env:"CLUSTER_PEERS"` // "id1=url1,id2=url2"
	HeartbeatIntervalMs       int    `json:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms" env:"CLUSTER_HEARTBEAT_INTERVAL_MS"`
	HeartbeatTimeoutMs        int    `json:"heartbeat_timeout_ms" yaml:"heartbeat_timeout_ms" env:"CLUSTER_HEARTBEAT_TIMEOUT_MS"`
	HorizontalScalingEnabled  bool   `json:"horizontal_scaling_enabled" yaml:"horizontal_scaling_enabled" env:"CLUSTER_HORIZONTAL_SCALING_ENABLED"`
}

// ParsePeers parses the "id1=url1,id2=url2" Peers field into a map.
// Malformed entries (missing "=") are skipped.
func (c ClusterConfig) ParsePeers() map[string]string {
	out := make(map[string]string)
	for _, tok := range utils.TrimEmpty(utils.SplitTrim(c.Peers, ",")) {
		parts := strings.SplitN(tok, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// Config is the top-level, layered GrepWise configuration.
type Config struct {
	Server           ServerConfig    `json:"server" yaml:"server"`
	Logging          LoggingConfig   `json:"logging" yaml:"logging"`
	IndexPath        string          `json:"index_path" yaml:"index_path" env:"INDEX_PATH"`
	ArchiveDirectory string          `json:"archive_directory" yaml:"archive_directory" env:"ARCHIVE_DIRECTORY"`
	MaxBufferSize    int             `json:"max_buffer_size" yaml:"max_buffer_size" env:"MAX_BUFFER_SIZE"`
	FlushIntervalMs  int             `json:"flush_interval_ms" yaml:"flush_interval_ms" env:"FLUSH_INTERVAL_MS"`
	Cache            CacheConfig     `json:"cache" yaml:"cache"`
	Partition        PartitionConfig `json:"partition" yaml:"partition"`
	Alarm            AlarmConfig     `json:"alarm" yaml:"alarm"`
	Cluster          ClusterConfig   `json:"cluster" yaml:"cluster"`
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		IndexPath:        "data/index",
		ArchiveDirectory: "data/archive",
		MaxBufferSize:    1000,
		FlushIntervalMs:  5000,
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 100,
			TTLMs:   60000,
		},
		Partition: PartitionConfig{
			Type:        "DAILY",
			MaxActive:   30,
			AutoArchive: true,
		},
		Alarm: AlarmConfig{
			EvaluationIntervalMs: 60000,
		},
		Cluster: ClusterConfig{
			NodeID:                   "",
			HeartbeatIntervalMs:      5000,
			HeartbeatTimeoutMs:       15000,
			HorizontalScalingEnabled: false,
		},
	}
}

// Load loads configuration from an optional YAML file and environment
// variables, in that precedence order over the built-in defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile reads configuration from a specific YAML file, skipping env
// var overlay. Used by tests that want deterministic config.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// normalize fills in defaults that depend on other fields or the
// environment, run after file+env overlay.
func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Cluster.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Cluster.NodeID = host
		} else {
			c.Cluster.NodeID = "node-1"
		}
	}
}
