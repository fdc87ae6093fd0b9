package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/beacon/pkg/jobregistry"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run journal",
	Long: `Inspect job and pipeline runs recorded by the agent.

Each run is stored under the journal directory as <run_id>/run.json, with
stdout.log and stderr.log for command jobs.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show one run record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old run records",
	RunE:  runRunsGC,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsGCCmd)

	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsListCmd.Flags().Int("limit", 20, "Maximum runs to show (0 = all)")
	runsListCmd.Flags().Bool("steps", false, "Include pipeline step runs")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
	runsGCCmd.Flags().String("max-age", "168h", "Delete finished runs older than this duration")
	runsGCCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	runsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func openJournal(cmd *cobra.Command) (*jobregistry.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "failed to load config", err)
	}
	return journalStore(cfg), nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	store, err := openJournal(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	steps, _ := cmd.Flags().GetBool("steps")
	runs, err := store.Recent(limit, steps)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to read run journal", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN_ID\tKEY\tSTATE\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if d := r.Duration(); d > 0 {
			dur = d.Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Key, r.State, r.StartedAt.Local().Format("2006-01-02 15:04:05"), dur, oneLine(r.Error, 60))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openJournal(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Get(args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "run not found", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintf(out, "Run:      %s\n", rec.RunID)
	fmt.Fprintf(out, "Key:      %s (%s)\n", rec.Key, rec.Kind)
	if rec.Parent != "" {
		fmt.Fprintf(out, "Parent:   %s\n", rec.Parent)
	}
	fmt.Fprintf(out, "State:    %s\n", rec.State)
	fmt.Fprintf(out, "Started:  %s\n", rec.StartedAt.Format(time.RFC3339))
	if rec.EndedAt != nil {
		fmt.Fprintf(out, "Ended:    %s (%s)\n", rec.EndedAt.Format(time.RFC3339), rec.Duration().Truncate(time.Millisecond))
	}
	if rec.ExitCode != 0 {
		fmt.Fprintf(out, "Exit:     %d\n", rec.ExitCode)
	}
	if rec.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", rec.Error)
	}
	if rec.StdoutPath != "" {
		fmt.Fprintf(out, "Stdout:   %s\n", rec.StdoutPath)
	}
	if rec.StderrPath != "" {
		fmt.Fprintf(out, "Stderr:   %s\n", rec.StderrPath)
	}
	return nil
}

type runsGCResult struct {
	Removed []string `json:"removed"`
	Kept    int      `json:"kept"`
	DryRun  bool     `json:"dry_run"`
	MaxAge  string   `json:"max_age"`
}

func runRunsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAge, err := time.ParseDuration(strings.TrimSpace(maxAgeStr))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid --max-age", err)
	}
	if maxAge <= 0 {
		return exitError(foundry.ExitInvalidArgument, "--max-age must be > 0", nil)
	}

	store, err := openJournal(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	res, err := store.GC(maxAge, time.Now().UTC(), dryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "run journal gc failed", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		removed := res.Removed
		if removed == nil {
			removed = []string{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runsGCResult{Removed: removed, Kept: res.Kept, DryRun: dryRun, MaxAge: maxAge.String()})
	}
	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	fmt.Fprintf(out, "%s %d run(s) older than %s; kept %d\n", verb, len(res.Removed), maxAge, res.Kept)
	return nil
}

// oneLine flattens s and caps it at max runes for table output.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
