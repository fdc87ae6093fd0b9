// Package orchestrator runs the agent's event loop: it polls the operator
// gateway, routes commands, and fires the periodic heartbeat cycle that
// refreshes data and asks the reasoning service for a summary.
//
// All agent state mutation happens on the loop goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/agentstate"
	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/docsource"
	"github.com/3leaps/beacon/pkg/engine"
	"github.com/3leaps/beacon/pkg/gateway"
	"github.com/3leaps/beacon/pkg/jobregistry"
	"github.com/3leaps/beacon/pkg/reasoning"
)

// Poll timeout bounds.
const (
	MinPollTimeout = time.Second
	MaxPollTimeout = 30 * time.Second
)

// pollErrorBackoff keeps a failing gateway from spinning the loop.
const pollErrorBackoff = time.Second

type Config struct {
	HeartbeatInterval  time.Duration
	ReasoningCooldown  time.Duration
	DefaultPipeline    string
	MaxTurns           int
	HistoryTurns       int
	DocumentsPerSource int
	PrimaryChannel     string
	Sources            []docsource.Source
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Hour
	}
	if c.DefaultPipeline == "" {
		c.DefaultPipeline = "default"
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = agentstate.DefaultMaxTurns
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.DocumentsPerSource <= 0 {
		c.DocumentsPerSource = 10
	}
	return c
}

// RunHistory lists recent run records for /history.
type RunHistory interface {
	Recent(limit int, withSteps bool) ([]jobregistry.RunRecord, error)
}

type Deps struct {
	Gateway   gateway.Gateway
	Engine    *engine.Engine
	Catalog   *catalog.Catalog
	Reasoning reasoning.Client
	Store     agentstate.Store
	State     *agentstate.State

	// History is optional; /history reports it as unavailable when nil.
	History RunHistory
	Logger  *zap.Logger
	Now     func() time.Time
}

type Orchestrator struct {
	cfg       Config
	gw        gateway.Gateway
	engine    *engine.Engine
	catalog   *catalog.Catalog
	reasoning reasoning.Client
	store     agentstate.Store
	state     *agentstate.State
	history   RunHistory
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("orchestrator: gateway is required")
	case deps.Engine == nil:
		return nil, errors.New("orchestrator: engine is required")
	case deps.Catalog == nil:
		return nil, errors.New("orchestrator: catalog is required")
	case deps.Reasoning == nil:
		return nil, errors.New("orchestrator: reasoning client is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: state store is required")
	}

	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		gw:        deps.Gateway,
		engine:    deps.Engine,
		catalog:   deps.Catalog,
		reasoning: deps.Reasoning,
		store:     deps.Store,
		state:     deps.State,
		history:   deps.History,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.state == nil {
		o.state = agentstate.New()
	}
	o.state.SetClock(o.now)
	// A lowered max_turns applies to the transcript loaded from disk too.
	o.state.TrimConversation(o.cfg.MaxTurns)
	o.publish(time.Time{})
	return o, nil
}

// State exposes the agent state. Callers must not use it while Run is active.
func (o *Orchestrator) State() *agentstate.State {
	return o.state
}

// Run drives the loop until ctx is cancelled or the gateway closes. The first
// heartbeat is due one interval after the previous persisted cycle, or
// immediately for a fresh state.
func (o *Orchestrator) Run(ctx context.Context) error {
	next := o.firstHeartbeat()
	o.publish(next)
	o.logger.Info("orchestrator started",
		zap.Duration("heartbeat_interval", o.cfg.HeartbeatInterval),
		zap.Time("next_heartbeat", next),
		zap.String("pipeline", o.cfg.DefaultPipeline),
	)

	for {
		if ctx.Err() != nil {
			break
		}

		msgs, err := o.gw.Poll(ctx, pollTimeout(next.Sub(o.now())))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, gateway.ErrClosed) {
				o.logger.Info("gateway closed, stopping")
				break
			}
			o.logger.Warn("gateway poll failed", zap.Error(err))
			msgs = nil
			sleep(ctx, pollErrorBackoff)
		}

		for _, m := range msgs {
			o.dispatch(ctx, m)
		}

		if ctx.Err() == nil && !o.now().Before(next) {
			o.heartbeat(ctx)
			next = o.now().Add(o.cfg.HeartbeatInterval)
			o.publish(next)
		}
	}

	o.logger.Info("orchestrator stopped")
	return nil
}

func (o *Orchestrator) firstHeartbeat() time.Time {
	now := o.now()
	if o.state.LastCycleAt.IsZero() {
		return now
	}
	next := o.state.LastCycleAt.Add(o.cfg.HeartbeatInterval)
	if next.Before(now) {
		return now
	}
	return next
}

// pollTimeout converts the time until the next heartbeat into whole
// seconds, clamped to [MinPollTimeout, MaxPollTimeout].
func pollTimeout(untilHeartbeat time.Duration) time.Duration {
	secs := math.Ceil(untilHeartbeat.Seconds())
	d := time.Duration(secs) * time.Second
	switch {
	case d < MinPollTimeout:
		return MinPollTimeout
	case d > MaxPollTimeout:
		return MaxPollTimeout
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// dispatch handles one message and sends its single reply. A handler panic
// is turned into an error reply.
func (o *Orchestrator) dispatch(ctx context.Context, m gateway.Message) {
	reply := o.safeHandle(ctx, m)
	if reply == "" {
		return
	}
	if err := o.gw.Send(ctx, m.Channel, reply); err != nil {
		o.logger.Warn("reply failed", zap.String("channel", m.Channel), zap.Error(err))
	}
}

func (o *Orchestrator) safeHandle(ctx context.Context, m gateway.Message) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("command handler panicked",
				zap.String("text", m.Text),
				zap.Any("panic", r),
			)
			reply = fmt.Sprintf("Error: %v", r)
		}
	}()
	return o.handle(ctx, m)
}

// save persists the state and refreshes the snapshot; failures are logged
// and the loop goes on.
func (o *Orchestrator) save(ctx context.Context) {
	o.publish(time.Time{})
	if err := o.store.Save(ctx, o.state); err != nil {
		o.logger.Error("failed to save agent state",
			zap.String("store", o.store.Describe()),
			zap.Error(err),
		)
	}
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	CycleCount          int                 `json:"cycle_count"`
	LastCycleAt         *time.Time          `json:"last_cycle_at,omitempty"`
	LastReasoningCallAt *time.Time          `json:"last_reasoning_call_at,omitempty"`
	NextHeartbeatAt     *time.Time          `json:"next_heartbeat_at,omitempty"`
	LastSummary         string              `json:"last_summary,omitempty"`
	Running             []engine.RunningJob `json:"running"`
}

// Snapshot is safe to call from any goroutine.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	s := o.snapshot
	o.mu.RUnlock()
	s.Running = o.engine.ListRunning()
	return s
}

func (o *Orchestrator) publish(next time.Time) {
	s := Snapshot{
		CycleCount:          o.state.CycleCount,
		LastCycleAt:         timePtr(o.state.LastCycleAt),
		LastReasoningCallAt: timePtr(o.state.LastReasoningCallAt),
		LastSummary:         o.state.LastSummary,
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s.NextHeartbeatAt = timePtr(next)
	if next.IsZero() {
		s.NextHeartbeatAt = o.snapshot.NextHeartbeatAt
	}
	o.snapshot = s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
