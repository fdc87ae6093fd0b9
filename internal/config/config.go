// Package config loads beacon configuration from defaults, an optional YAML
// file, BEACON_* environment variables and runtime overrides, in increasing
// order of precedence.
package config

import (
	"time"

	"github.com/3leaps/beacon/pkg/docsource"
)

// AppName names the binary, the env prefix and the app data directory.
const AppName = "beacon"

type Config struct {
	Logging   LoggingConfig      `mapstructure:"logging"`
	Agent     AgentConfig        `mapstructure:"agent"`
	Gateway   GatewayConfig      `mapstructure:"gateway"`
	Reasoning ReasoningConfig    `mapstructure:"reasoning"`
	State     StateConfig        `mapstructure:"state"`
	Server    ServerConfig       `mapstructure:"server"`
	Documents []docsource.Source `mapstructure:"documents"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type AgentConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ReasoningCooldown  time.Duration `mapstructure:"reasoning_cooldown"`
	DefaultPipeline    string        `mapstructure:"default_pipeline"`
	MaxTurns           int           `mapstructure:"max_turns"`
	HistoryTurns       int           `mapstructure:"history_turns"`
	DocumentsPerSource int           `mapstructure:"documents_per_source"`
	PrimaryChannel     string        `mapstructure:"primary_channel"`
	StatePath          string        `mapstructure:"state_path"`
	CatalogPath        string        `mapstructure:"catalog_path"`
	JournalDir         string        `mapstructure:"journal_dir"`
	SystemPrompt       string        `mapstructure:"system_prompt"`
}

// Gateway kinds.
const (
	GatewayDiscord = "discord"
	GatewayConsole = "console"
)

type GatewayConfig struct {
	Kind            string   `mapstructure:"kind"`
	Token           string   `mapstructure:"token"`
	AllowedChannels []string `mapstructure:"allowed_channels"`
	MaxMessageLen   int      `mapstructure:"max_message_len"`
	SendRate        float64  `mapstructure:"send_rate"`
	SendBurst       int      `mapstructure:"send_burst"`
}

type ReasoningConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Endpoint    string        `mapstructure:"endpoint"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// State backends.
const (
	StateFile  = "file"
	StateRedis = "redis"
)

type StateConfig struct {
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
	RedisKey string `mapstructure:"redis_key"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}
