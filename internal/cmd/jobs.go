package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/beacon/internal/observability"
	"github.com/3leaps/beacon/internal/orchestrator"
	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/engine"
	"github.com/3leaps/beacon/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run catalog jobs",
	Long: `Inspect the job catalog and run jobs or pipelines once, outside the agent
loop. Runs are recorded in the same journal the agent uses.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs and pipelines",
	RunE:  runJobsList,
}

var jobsExecCmd = &cobra.Command{
	Use:   "exec <name>",
	Short: "Run a job or pipeline and wait for it",
	Long: `Run a job, or a pipeline with --pipeline, in the foreground. Lifecycle
events are printed as they happen. The exit code is the job's exit code when
it failed with one.

Examples:
  beacon jobs exec fetch-news
  beacon jobs exec default --pipeline`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsExec,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsExecCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsExecCmd.Flags().BoolP("pipeline", "p", false, "Treat <name> as a pipeline")
}

type jobListEntry struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load config", err)
	}
	file, err := loadCatalogFile(cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to load job catalog", err)
	}

	entries := make([]jobListEntry, 0, len(file.Jobs)+len(file.Pipelines))
	for _, j := range file.Jobs {
		entries = append(entries, jobListEntry{Name: j.Name, Kind: j.Kind, Description: j.Description})
	}
	for _, p := range file.Pipelines {
		entries = append(entries, jobListEntry{Name: p.Name, Kind: "pipeline", Description: p.Description, Steps: p.Steps})
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "No jobs defined in %s\n", cfg.Agent.CatalogPath)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tDESCRIPTION")
	for _, e := range entries {
		desc := e.Description
		if len(e.Steps) > 0 {
			desc = strings.TrimSpace(desc + " [" + strings.Join(e.Steps, ", ") + "]")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.Kind, desc)
	}
	return w.Flush()
}

func runJobsExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load config", err)
	}
	logger := observability.CLILogger
	journal := journalStore(cfg)
	cat, err := buildCatalog(cfg, jobregistry.NewExecutor(journal, logger), logger)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to load job catalog", err)
	}

	name := args[0]
	isPipeline, _ := cmd.Flags().GetBool("pipeline")
	key := engine.JobKey(name)
	if isPipeline {
		if _, ok := cat.Pipeline(name); !ok {
			return exitError(foundry.ExitInvalidArgument, "unknown pipeline", fmt.Errorf("%w: %s", catalog.ErrUnknownPipeline, name))
		}
		key = engine.PipelineKey(name)
	} else if _, ok := cat.Job(name); !ok {
		return exitError(foundry.ExitInvalidArgument, "unknown job", fmt.Errorf("%w: %s", catalog.ErrUnknownJob, name))
	}

	out := cmd.OutOrStdout()
	var (
		mu       sync.Mutex
		terminal *engine.Event
	)
	eng := engine.New(cat,
		engine.WithLogger(logger),
		engine.WithRecorder(journal),
		engine.WithNotifier(func(ev engine.Event) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out, orchestrator.FormatEvent(ev))
			if ev.Key == key && ev.Parent == "" && ev.Status.Terminal() {
				e := ev
				terminal = &e
			}
		}),
	)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isPipeline {
		eng.StartPipeline(ctx, name)
	} else {
		eng.StartJob(ctx, name)
	}
	// Runs observe ctx, so Wait returns once a signal has been handled.
	_ = eng.Wait(commandContext(cmd))

	mu.Lock()
	defer mu.Unlock()
	switch {
	case terminal == nil:
		return exitError(foundry.ExitSignalInt, "run did not finish", nil)
	case terminal.Status == engine.StatusCompleted:
		return nil
	case terminal.Status == engine.StatusCancelled:
		return exitError(foundry.ExitSignalInt, key+" cancelled", nil)
	default:
		code := terminal.ExitCode
		if code == 0 {
			code = 1
		}
		var cause error
		if terminal.Error != "" {
			cause = errors.New(terminal.Error)
		}
		return exitError(code, key+" failed", cause)
	}
}
