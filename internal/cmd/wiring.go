package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/internal/config"
	"github.com/3leaps/beacon/internal/orchestrator"
	"github.com/3leaps/beacon/pkg/agentstate"
	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/gateway"
	"github.com/3leaps/beacon/pkg/gateway/console"
	"github.com/3leaps/beacon/pkg/gateway/discord"
	"github.com/3leaps/beacon/pkg/jobregistry"
	"github.com/3leaps/beacon/pkg/jobs"
	"github.com/3leaps/beacon/pkg/reasoning"
)

// openStateStore returns the configured state backend. The redis client is
// returned so callers can ping and close it; it is nil for the file backend.
func openStateStore(cfg *config.Config) (agentstate.Store, *redis.Client, error) {
	switch cfg.State.Backend {
	case config.StateRedis:
		client, err := agentstate.NewRedisClient(cfg.State.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return agentstate.NewRedisStore(client, cfg.State.RedisKey), client, nil
	default:
		return agentstate.NewFileStore(cfg.Agent.StatePath), nil, nil
	}
}

// loadState reads persisted state. Corrupt or unreachable state is logged
// and replaced by a fresh one.
func loadState(ctx context.Context, store agentstate.Store, logger *zap.Logger) *agentstate.State {
	state, err := store.Load(ctx)
	if err != nil {
		logger.Warn("agent state unreadable, starting fresh",
			zap.String("store", store.Describe()),
			zap.Error(err),
		)
	}
	if state == nil {
		state = agentstate.New()
	}
	return state
}

func journalStore(cfg *config.Config) *jobregistry.Store {
	return jobregistry.NewStore(cfg.Agent.JournalDir)
}

// loadCatalogFile reads the catalog file. A missing file at the default path
// yields an empty catalog; a missing explicit path is an error.
func loadCatalogFile(cfg *config.Config, logger *zap.Logger) (*catalog.File, error) {
	path := cfg.Agent.CatalogPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultCatalogPath {
		logger.Warn("no catalog file found; running without jobs", zap.String("path", path))
		return &catalog.File{}, nil
	}
	return catalog.LoadFile(path)
}

const defaultCatalogPath = "catalog.yaml"

func buildCatalog(cfg *config.Config, executor *jobregistry.Executor, logger *zap.Logger) (*catalog.Catalog, error) {
	file, err := loadCatalogFile(cfg, logger)
	if err != nil {
		return nil, err
	}
	factory := &jobs.Factory{Executor: executor, Logger: logger.Named("jobs")}
	return factory.Catalog(file)
}

// openGateway connects the operator channel. It also returns the channel
// that receives heartbeat summaries and job notifications.
func openGateway(cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) (gateway.Gateway, string, error) {
	switch cfg.Gateway.Kind {
	case config.GatewayDiscord:
		gw, err := discord.New(discord.Config{
			Token:           cfg.Gateway.Token,
			AllowedChannels: cfg.Gateway.AllowedChannels,
			MaxMessageLen:   cfg.Gateway.MaxMessageLen,
			SendRate:        cfg.Gateway.SendRate,
			SendBurst:       cfg.Gateway.SendBurst,
			Logger:          logger.Named("discord"),
		})
		if err != nil {
			return nil, "", err
		}
		if err := gw.Open(); err != nil {
			return nil, "", fmt.Errorf("connect discord: %w", err)
		}
		return gw, cfg.Agent.PrimaryChannel, nil
	default:
		channel := cfg.Agent.PrimaryChannel
		if channel == "" {
			channel = console.Channel
		}
		return console.New(in, out), channel, nil
	}
}

func newReasoningClient(cfg *config.Config) (reasoning.Client, error) {
	return reasoning.New(reasoning.Config{
		Provider:     cfg.Reasoning.Provider,
		APIKey:       cfg.Reasoning.APIKey,
		Model:        cfg.Reasoning.Model,
		Endpoint:     cfg.Reasoning.Endpoint,
		MaxTokens:    cfg.Reasoning.MaxTokens,
		Temperature:  cfg.Reasoning.Temperature,
		Timeout:      cfg.Reasoning.Timeout,
		SystemPrompt: cfg.Agent.SystemPrompt,
	})
}

func orchestratorConfig(cfg *config.Config, primary string) orchestrator.Config {
	return orchestrator.Config{
		HeartbeatInterval:  cfg.Agent.HeartbeatInterval,
		ReasoningCooldown:  cfg.Agent.ReasoningCooldown,
		DefaultPipeline:    cfg.Agent.DefaultPipeline,
		MaxTurns:           cfg.Agent.MaxTurns,
		HistoryTurns:       cfg.Agent.HistoryTurns,
		DocumentsPerSource: cfg.Agent.DocumentsPerSource,
		PrimaryChannel:     primary,
		Sources:            cfg.Documents,
	}
}

// redisHealthChecker pings the redis state backend.
type redisHealthChecker struct {
	client *redis.Client
}

func (c redisHealthChecker) CheckHealth(ctx context.Context) error {
	if c.client == nil {
		return errors.New("redis client not initialized")
	}
	return c.client.Ping(ctx).Err()
}

// heartbeatHealthChecker fails when the heartbeat is more than one interval
// late.
type heartbeatHealthChecker struct {
	status   interface{ Snapshot() orchestrator.Snapshot }
	interval time.Duration
	now      func() time.Time
}

func (c heartbeatHealthChecker) CheckHealth(context.Context) error {
	snap := c.status.Snapshot()
	if snap.NextHeartbeatAt == nil {
		return nil
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	if late := now().Sub(*snap.NextHeartbeatAt); late > c.interval {
		return fmt.Errorf("heartbeat overdue by %s", late.Truncate(time.Second))
	}
	return nil
}
