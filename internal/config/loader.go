package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// EnvSpec maps a short environment variable onto a config key. Every key
// is also reachable as BEACON_<SECTION>_<KEY>.
type EnvSpec struct {
	Name string
	Path string
}

func envPrefix() string {
	return strings.ToUpper(AppName)
}

func getEnvSpecs() []EnvSpec {
	p := envPrefix() + "_"
	return []EnvSpec{
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "DISCORD_TOKEN", Path: "gateway.token"},
		{Name: p + "CHANNEL", Path: "agent.primary_channel"},
		{Name: p + "API_KEY", Path: "reasoning.api_key"},
		{Name: p + "MODEL", Path: "reasoning.model"},
		{Name: p + "REDIS_URL", Path: "state.redis_url"},
		{Name: p + "HEARTBEAT", Path: "agent.heartbeat_interval"},
		{Name: p + "CATALOG", Path: "agent.catalog_path"},
	}
}

// DataDir is the per-user data directory for state and run records.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("agent.heartbeat_interval", "1h")
	v.SetDefault("agent.reasoning_cooldown", "6h")
	v.SetDefault("agent.default_pipeline", "default")
	v.SetDefault("agent.max_turns", 20)
	v.SetDefault("agent.history_turns", 10)
	v.SetDefault("agent.documents_per_source", 10)
	v.SetDefault("agent.primary_channel", "")
	v.SetDefault("agent.state_path", filepath.Join(dataDir, "state.json"))
	v.SetDefault("agent.catalog_path", "catalog.yaml")
	v.SetDefault("agent.journal_dir", filepath.Join(dataDir, "runs"))
	v.SetDefault("agent.system_prompt", "")

	v.SetDefault("gateway.kind", GatewayConsole)
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.allowed_channels", []string{})
	v.SetDefault("gateway.max_message_len", 2000)
	v.SetDefault("gateway.send_rate", 1.0)
	v.SetDefault("gateway.send_burst", 5)

	v.SetDefault("reasoning.provider", "anthropic")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.model", "")
	v.SetDefault("reasoning.endpoint", "")
	v.SetDefault("reasoning.max_tokens", 1024)
	v.SetDefault("reasoning.temperature", 0.3)
	v.SetDefault("reasoning.timeout", "60s")

	v.SetDefault("state.backend", StateFile)
	v.SetDefault("state.redis_url", "")
	v.SetDefault("state.redis_key", "beacon:state")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// Load resolves configuration without an explicit file. See LoadFile.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile resolves configuration. With an empty path, beacon.yaml is looked
// up in the working directory and the user config directory and may be
// absent; an explicit path must exist. Overrides win over everything else.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		full := envPrefix() + "_" + strings.ToUpper(strings.ReplaceAll(spec.Path, ".", "_"))
		if err := v.BindEnv(spec.Path, full, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	for _, dir := range searchPaths() {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func searchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	return paths
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func (c *Config) normalize() {
	c.Gateway.Kind = strings.ToLower(strings.TrimSpace(c.Gateway.Kind))
	c.Reasoning.Provider = strings.ToLower(strings.TrimSpace(c.Reasoning.Provider))
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	c.Logging.Profile = strings.ToLower(strings.TrimSpace(c.Logging.Profile))

	channels := c.Gateway.AllowedChannels[:0]
	for _, ch := range c.Gateway.AllowedChannels {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	c.Gateway.AllowedChannels = channels
}

// Validate reports every structural problem at once. Credentials are not
// required here so offline commands work without them.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Agent.HeartbeatInterval <= 0 {
		add("agent.heartbeat_interval must be positive")
	}
	if c.Agent.ReasoningCooldown < 0 {
		add("agent.reasoning_cooldown must not be negative")
	}
	if c.Agent.MaxTurns <= 0 {
		add("agent.max_turns must be positive")
	}
	if c.Agent.HistoryTurns < 0 {
		add("agent.history_turns must not be negative")
	}
	if c.Agent.DocumentsPerSource <= 0 {
		add("agent.documents_per_source must be positive")
	}
	if strings.TrimSpace(c.Agent.DefaultPipeline) == "" {
		add("agent.default_pipeline is required")
	}

	switch c.Gateway.Kind {
	case GatewayConsole:
	case GatewayDiscord:
		if c.Gateway.MaxMessageLen <= 0 {
			add("gateway.max_message_len must be positive")
		}
	default:
		add("gateway.kind %q is not supported (discord, console)", c.Gateway.Kind)
	}

	switch c.Reasoning.Provider {
	case "anthropic", "claude", "openai", "gpt":
	default:
		add("reasoning.provider %q is not supported (anthropic, openai)", c.Reasoning.Provider)
	}
	if c.Reasoning.Timeout < 0 {
		add("reasoning.timeout must not be negative")
	}

	switch c.State.Backend {
	case StateFile:
		if strings.TrimSpace(c.Agent.StatePath) == "" {
			add("agent.state_path is required for the file state backend")
		}
	case StateRedis:
		if strings.TrimSpace(c.State.RedisURL) == "" {
			add("state.redis_url is required for the redis state backend")
		}
	default:
		add("state.backend %q is not supported (file, redis)", c.State.Backend)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}

	names := make(map[string]struct{}, len(c.Documents))
	for i, d := range c.Documents {
		if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.Path) == "" {
			add("documents[%d]: name and path are required", i)
			continue
		}
		if _, dup := names[d.Name]; dup {
			add("documents[%d]: duplicate source %q", i, d.Name)
		}
		names[d.Name] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateForRun adds the checks that only matter when the agent connects
// to its gateway and reasoning service.
func (c *Config) ValidateForRun() error {
	var errs []error
	if c.Gateway.Kind == GatewayDiscord {
		if strings.TrimSpace(c.Gateway.Token) == "" {
			errs = append(errs, errors.New("gateway.token is required for discord"))
		}
		if strings.TrimSpace(c.Agent.PrimaryChannel) == "" {
			errs = append(errs, errors.New("agent.primary_channel is required for discord"))
		}
	}
	if strings.TrimSpace(c.Reasoning.APIKey) == "" {
		errs = append(errs, errors.New("reasoning.api_key is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
