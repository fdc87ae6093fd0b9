package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/docsource"
	"github.com/3leaps/beacon/pkg/reasoning"
)

// documentBodyLimit caps each document in the heartbeat prompt, in runes.
const documentBodyLimit = 1500

// placeholderSummary is stored when the reasoning call fails so the next
// cycle does not treat the failure text as prior analysis.
const placeholderSummary = "(no summary: reasoning call failed)"

type sourceBatch struct {
	source docsource.Source
	docs   []docsource.Document
}

// heartbeat runs one cycle: refresh data through the default pipeline, collect
// unseen documents and, when there is something new or the cooldown has
// passed, ask for a summary. A cycle interrupted by ctx is not counted.
func (o *Orchestrator) heartbeat(ctx context.Context) {
	start := o.now()
	log := o.logger.With(zap.String("pipeline", o.cfg.DefaultPipeline))
	log.Info("heartbeat started", zap.Int("cycle", o.state.CycleCount+1))

	ok, err := o.engine.RunPipelineAndAwait(ctx, o.cfg.DefaultPipeline)
	switch {
	case ctx.Err() != nil:
		log.Info("heartbeat interrupted")
		return
	case err != nil:
		log.Error("heartbeat pipeline failed to start", zap.Error(err))
		o.announce(ctx, fmt.Sprintf("Heartbeat: pipeline %s could not run: %v", o.cfg.DefaultPipeline, err))
	case !ok:
		log.Warn("heartbeat pipeline did not complete; continuing with existing data")
	}

	batches, total := o.collect()
	if total == 0 && !o.state.CooldownElapsed(o.cfg.ReasoningCooldown) {
		log.Info("heartbeat skipped reasoning: no new documents and cooldown active")
		o.state.MarkCycleComplete(o.state.LastSummary)
		o.save(ctx)
		return
	}

	o.state.MarkReasoningAttempt()
	o.save(ctx)

	channel := o.cfg.PrimaryChannel
	if channel != "" {
		_ = o.gw.SendTyping(ctx, channel)
	}

	prompt := o.buildPrompt(batches)
	resp, err := o.reasoning.Chat(ctx, []reasoning.Message{{Role: reasoning.RoleUser, Content: prompt}})
	if ctx.Err() != nil {
		// The attempt was saved above; the shutdown path in the run command
		// does the final save once the loop exits.
		log.Info("heartbeat interrupted during reasoning")
		return
	}

	summary := placeholderSummary
	if err != nil {
		log.Error("heartbeat reasoning failed", zap.Error(err))
		o.announce(ctx, fmt.Sprintf("Heartbeat: reasoning failed: %v", err))
	} else {
		summary = resp.Content
		for _, b := range batches {
			ids := make([]string, 0, len(b.docs))
			for _, d := range b.docs {
				ids = append(ids, d.ID)
			}
			o.state.MarkSeen(b.source.Name, ids...)
		}
		o.announce(ctx, summary)
	}

	o.state.MarkCycleComplete(summary)
	o.save(ctx)
	log.Info("heartbeat finished",
		zap.Int("new_documents", total),
		zap.Bool("reasoning_ok", err == nil),
		zap.Duration("duration", o.now().Sub(start)),
	)
}

// collect reads every source and keeps up to DocumentsPerSource unseen
// documents from each. Unreadable sources are logged and skipped.
func (o *Orchestrator) collect() ([]sourceBatch, int) {
	var (
		batches []sourceBatch
		total   int
	)
	for _, src := range o.cfg.Sources {
		docs, err := docsource.Read(src.Path)
		if err != nil {
			o.logger.Warn("document source unreadable",
				zap.String("source", src.Name),
				zap.String("path", src.Path),
				zap.Error(err),
			)
			continue
		}
		name := src.Name
		fresh := docsource.Unseen(docs, func(id string) bool {
			return o.state.HasSeen(name, id)
		}, o.cfg.DocumentsPerSource)
		batches = append(batches, sourceBatch{source: src, docs: fresh})
		total += len(fresh)
	}
	return batches, total
}

func (o *Orchestrator) buildPrompt(batches []sourceBatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heartbeat at %s.\n\n", o.now().UTC().Format(time.RFC3339))

	b.WriteString("New documents by source:\n")
	if len(batches) == 0 {
		b.WriteString("- no sources configured\n")
	}
	for _, batch := range batches {
		fmt.Fprintf(&b, "- %s: %d\n", batch.source.Name, len(batch.docs))
	}

	b.WriteString("\nPrevious summary:\n")
	if o.state.LastSummary == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(o.state.LastSummary)
		b.WriteString("\n")
	}
	b.WriteString("\nSummarize what changed since the previous summary. Do not repeat earlier conclusions unless the new documents change them. If nothing material changed, say so briefly.\n")

	for _, batch := range batches {
		for _, d := range batch.docs {
			fmt.Fprintf(&b, "\n[%s] %s\n", batch.source.Name, d.ID)
			if title := d.Header("title"); title != "" {
				fmt.Fprintf(&b, "Title: %s\n", title)
			}
			b.WriteString(d.PlainBody(documentBodyLimit))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// announce posts to the primary channel when one is configured.
func (o *Orchestrator) announce(ctx context.Context, text string) {
	if o.cfg.PrimaryChannel == "" {
		return
	}
	if err := o.gw.Send(ctx, o.cfg.PrimaryChannel, text); err != nil {
		o.logger.Warn("announce failed", zap.String("channel", o.cfg.PrimaryChannel), zap.Error(err))
	}
}
