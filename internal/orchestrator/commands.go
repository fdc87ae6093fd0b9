package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/agentstate"
	"github.com/3leaps/beacon/pkg/engine"
	"github.com/3leaps/beacon/pkg/gateway"
	"github.com/3leaps/beacon/pkg/reasoning"
)

const defaultHistoryLimit = 10

type command struct {
	name  string
	usage string
	help  string
	run   func(o *Orchestrator, ctx context.Context, m gateway.Message, arg string) string
}

var commands []command

func init() {
	commands = []command{
		{name: "/jobs", usage: "/jobs", help: "list jobs, pipelines and running work", run: (*Orchestrator).cmdJobs},
		{name: "/run", usage: "/run <job>", help: "start a job", run: (*Orchestrator).cmdRun},
		{name: "/pipeline", usage: "/pipeline [name]", help: "start a pipeline (default if omitted)", run: (*Orchestrator).cmdPipeline},
		{name: "/stop", usage: "/stop <name>", help: "cancel a running job or pipeline", run: (*Orchestrator).cmdStop},
		{name: "/status", usage: "/status", help: "show cycle status and the last summary", run: (*Orchestrator).cmdStatus},
		{name: "/history", usage: "/history [n]", help: "show recent runs", run: (*Orchestrator).cmdHistory},
		{name: "/reset", usage: "/reset", help: "clear the conversation", run: (*Orchestrator).cmdReset},
		{name: "/help", usage: "/help", help: "show this help", run: (*Orchestrator).cmdHelp},
	}
}

// handle routes one message. Commands match on the first word, case
// insensitively; anything else is chat.
func (o *Orchestrator) handle(ctx context.Context, m gateway.Message) string {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return ""
	}
	word, arg := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, arg = text[:i], strings.TrimSpace(text[i:])
	}
	word = strings.ToLower(word)

	for _, c := range commands {
		if c.name == word {
			o.logger.Debug("command",
				zap.String("command", c.name),
				zap.String("arg", arg),
				zap.String("author", m.Author),
			)
			return c.run(o, ctx, m, arg)
		}
	}
	return o.chat(ctx, m)
}

func (o *Orchestrator) cmdJobs(_ context.Context, _ gateway.Message, _ string) string {
	var b strings.Builder
	b.WriteString("Jobs:\n")
	jobs := o.catalog.Jobs()
	if len(jobs) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, j := range jobs {
		writeEntry(&b, j.Name, j.Description)
	}
	b.WriteString("Pipelines:\n")
	pipelines := o.catalog.Pipelines()
	if len(pipelines) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, p := range pipelines {
		desc := strings.Join(p.Steps, " → ")
		if p.Description != "" {
			desc = p.Description + " (" + desc + ")"
		}
		writeEntry(&b, p.Name, desc)
	}
	b.WriteString(o.runningText())
	return strings.TrimRight(b.String(), "\n")
}

func writeEntry(b *strings.Builder, name, desc string) {
	if desc == "" {
		fmt.Fprintf(b, "  %s\n", name)
		return
	}
	fmt.Fprintf(b, "  %s: %s\n", name, desc)
}

func (o *Orchestrator) runningText() string {
	running := o.engine.ListRunning()
	if len(running) == 0 {
		return "Running: none\n"
	}
	var b strings.Builder
	b.WriteString("Running:\n")
	now := o.now()
	for _, r := range running {
		fmt.Fprintf(&b, "  %s (%s, %s)\n", r.Key, r.Kind, now.Sub(r.StartedAt).Truncate(time.Second))
	}
	return b.String()
}

func (o *Orchestrator) cmdRun(ctx context.Context, _ gateway.Message, arg string) string {
	if arg == "" {
		return "Usage: /run <job>"
	}
	if _, ok := o.catalog.Job(arg); !ok {
		return fmt.Sprintf("Unknown job %q. Use /jobs to list jobs.", arg)
	}
	if !o.engine.StartJob(ctx, arg) {
		return fmt.Sprintf("Job %s is already running.", engine.JobKey(arg))
	}
	return fmt.Sprintf("Started job %s.", engine.JobKey(arg))
}

func (o *Orchestrator) cmdPipeline(ctx context.Context, _ gateway.Message, arg string) string {
	name := arg
	if name == "" {
		name = o.cfg.DefaultPipeline
	}
	if _, ok := o.catalog.Pipeline(name); !ok {
		return fmt.Sprintf("Unknown pipeline %q. Use /jobs to list pipelines.", name)
	}
	if !o.engine.StartPipeline(ctx, name) {
		return fmt.Sprintf("Pipeline %s is already running.", engine.PipelineKey(name))
	}
	return fmt.Sprintf("Started pipeline %s.", engine.PipelineKey(name))
}

// cmdStop accepts a run key, a job name or a pipeline name, tried in that
// order.
func (o *Orchestrator) cmdStop(_ context.Context, _ gateway.Message, arg string) string {
	if arg == "" {
		return "Usage: /stop <name>"
	}
	for _, key := range []string{engine.NormalizeKey(arg), engine.PipelineKey(arg)} {
		if o.engine.Cancel(key) {
			return fmt.Sprintf("Cancelling %s.", key)
		}
	}
	return fmt.Sprintf("%s is not running.", arg)
}

func (o *Orchestrator) cmdStatus(_ context.Context, _ gateway.Message, _ string) string {
	var b strings.Builder
	if o.state.LastCycleAt.IsZero() {
		b.WriteString("Last cycle: never\n")
	} else {
		fmt.Fprintf(&b, "Last cycle: %s\n", o.state.LastCycleAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Cycles: %d\n", o.state.CycleCount)
	b.WriteString(o.runningText())
	if o.state.LastSummary == "" {
		b.WriteString("Last summary: none")
	} else {
		b.WriteString("Last summary:\n")
		b.WriteString(o.state.LastSummary)
	}
	return b.String()
}

func (o *Orchestrator) cmdHistory(_ context.Context, _ gateway.Message, arg string) string {
	if o.history == nil {
		return "Run history is not available."
	}
	limit := defaultHistoryLimit
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return "Usage: /history [n]"
		}
		limit = n
	}
	runs, err := o.history.Recent(limit, false)
	if err != nil {
		return fmt.Sprintf("Error reading run history: %v", err)
	}
	if len(runs) == 0 {
		return "No runs recorded yet."
	}
	var b strings.Builder
	b.WriteString("Recent runs:\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "  %s %s %s", r.StartedAt.UTC().Format(time.RFC3339), r.Key, r.State)
		if d := r.Duration(); d > 0 {
			fmt.Fprintf(&b, " in %s", d.Truncate(time.Millisecond))
		}
		if r.Error != "" {
			fmt.Fprintf(&b, ": %s", r.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) cmdReset(ctx context.Context, _ gateway.Message, _ string) string {
	o.state.ResetConversation()
	o.save(ctx)
	return "Conversation cleared."
}

func (o *Orchestrator) cmdHelp(_ context.Context, _ gateway.Message, _ string) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %s: %s\n", c.usage, c.help)
	}
	b.WriteString("Anything else is sent to the assistant.")
	return b.String()
}

// chat forwards free text with recent history. Turns are recorded only when
// the call succeeds.
func (o *Orchestrator) chat(ctx context.Context, m gateway.Message) string {
	_ = o.gw.SendTyping(ctx, m.Channel)

	turns := o.state.RecentTurns(o.cfg.HistoryTurns)
	msgs := make([]reasoning.Message, 0, len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, reasoning.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, reasoning.Message{Role: reasoning.RoleUser, Content: m.Text})

	resp, err := o.reasoning.Chat(ctx, msgs)
	if err != nil {
		o.logger.Warn("chat failed", zap.Error(err))
		return fmt.Sprintf("Error: %v", err)
	}

	o.state.AddMessage(agentstate.RoleUser, m.Text, o.cfg.MaxTurns)
	o.state.AddMessage(agentstate.RoleAssistant, resp.Content, o.cfg.MaxTurns)
	o.save(ctx)
	return resp.Content
}
