package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/engine"
	"github.com/3leaps/beacon/pkg/gateway"
)

const notifySendTimeout = 10 * time.Second

// NewNotifier forwards engine lifecycle events to channel as plain status
// lines. Sends are bounded so a slow gateway cannot stall a run goroutine.
func NewNotifier(gw gateway.Gateway, channel string, logger *zap.Logger) engine.Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ev engine.Event) {
		if channel == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifySendTimeout)
		defer cancel()
		if err := gw.Send(ctx, channel, FormatEvent(ev)); err != nil {
			logger.Warn("notification failed",
				zap.String("key", ev.Key),
				zap.String("status", string(ev.Status)),
				zap.Error(err),
			)
		}
	}
}

// FormatEvent renders ev as a single line, e.g.
// "pipeline:default step 2 fetch failed after 1.5s: exit code 2".
func FormatEvent(ev engine.Event) string {
	var b strings.Builder
	if ev.Parent != "" {
		fmt.Fprintf(&b, "%s step %d ", ev.Parent, ev.Step)
	}
	b.WriteString(ev.Key)
	b.WriteString(" ")
	b.WriteString(statusWord(ev.Status))
	if ev.Status.Terminal() && ev.Duration > 0 {
		fmt.Fprintf(&b, " after %s", ev.Duration.Round(time.Millisecond))
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, ": %s", ev.Error)
	}
	return b.String()
}

// statusWord names a lifecycle transition; a run entering StatusRunning has
// just started.
func statusWord(s engine.Status) string {
	if s == engine.StatusRunning {
		return "started"
	}
	return string(s)
}
