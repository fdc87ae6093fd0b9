package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/beacon/pkg/agentstate"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset persisted agent state",
	Long: `Inspect or reset the agent's persisted state: cycle counters, the last
summary, the conversation transcript and the per-source seen sets.

Do not reset state while the agent is running; the agent overwrites it on its
next save.`,
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show persisted state",
	RunE:  runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset persisted state",
	Long: `Reset persisted state. With --conversation only the transcript is cleared;
otherwise everything is replaced by a fresh state and --yes is required.`,
	RunE: runStateReset,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateShowCmd.Flags().Bool("json", false, "Output as JSON")
	stateResetCmd.Flags().Bool("conversation", false, "Clear only the conversation transcript")
	stateResetCmd.Flags().Bool("yes", false, "Confirm a full reset")
}

type stateSummary struct {
	Store               string         `json:"store"`
	CycleCount          int            `json:"cycle_count"`
	LastCycleAt         *time.Time     `json:"last_cycle_at,omitempty"`
	LastReasoningCallAt *time.Time     `json:"last_reasoning_call_at,omitempty"`
	ConversationTurns   int            `json:"conversation_turns"`
	Seen                map[string]int `json:"seen"`
	LastSummary         string         `json:"last_summary,omitempty"`
}

func openState(cmd *cobra.Command) (agentstate.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "failed to load config", err)
	}
	store, client, err := openStateStore(cfg)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "failed to open state store", err)
	}
	closer := func() {
		if client != nil {
			_ = client.Close()
		}
	}
	return store, closer, nil
}

func runStateShow(cmd *cobra.Command, _ []string) error {
	store, closer, err := openState(cmd)
	if err != nil {
		return err
	}
	defer closer()

	state, err := store.Load(commandContext(cmd))
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to read state", err)
	}

	sum := stateSummary{
		Store:             store.Describe(),
		CycleCount:        state.CycleCount,
		LastCycleAt:       optionalTime(state.LastCycleAt),
		ConversationTurns: len(state.Conversation),
		Seen:              make(map[string]int),
		LastSummary:       state.LastSummary,
	}
	sum.LastReasoningCallAt = optionalTime(state.LastReasoningCallAt)
	for _, src := range state.Sources() {
		sum.Seen[src] = state.SeenCount(src)
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintf(out, "Store:           %s\n", sum.Store)
	fmt.Fprintf(out, "Cycles:          %d\n", sum.CycleCount)
	fmt.Fprintf(out, "Last cycle:      %s\n", formatOptionalTime(sum.LastCycleAt))
	fmt.Fprintf(out, "Last reasoning:  %s\n", formatOptionalTime(sum.LastReasoningCallAt))
	fmt.Fprintf(out, "Conversation:    %d turn(s)\n", sum.ConversationTurns)
	if len(sum.Seen) == 0 {
		fmt.Fprintln(out, "Seen documents:  none")
	} else {
		fmt.Fprintln(out, "Seen documents:")
		for _, src := range state.Sources() {
			fmt.Fprintf(out, "  %s: %d\n", src, sum.Seen[src])
		}
	}
	if sum.LastSummary != "" {
		fmt.Fprintf(out, "\nLast summary:\n%s\n", sum.LastSummary)
	}
	return nil
}

func runStateReset(cmd *cobra.Command, _ []string) error {
	conversationOnly, _ := cmd.Flags().GetBool("conversation")
	yes, _ := cmd.Flags().GetBool("yes")
	if !conversationOnly && !yes {
		return exitError(foundry.ExitInvalidArgument, "full reset requires --yes", nil)
	}

	store, closer, err := openState(cmd)
	if err != nil {
		return err
	}
	defer closer()

	ctx := commandContext(cmd)
	state := agentstate.New()
	if conversationOnly {
		state, err = store.Load(ctx)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "failed to read state", err)
		}
		state.ResetConversation()
	}
	if err := store.Save(ctx, state); err != nil {
		return exitError(foundry.ExitFileWriteError, "failed to save state", err)
	}

	what := "state"
	if conversationOnly {
		what = "conversation"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s in %s\n", what, store.Describe())
	return nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
