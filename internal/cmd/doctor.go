package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/internal/config"
	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/docsource"
	"github.com/3leaps/beacon/pkg/jobregistry"
)

var doctorProvider string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on configuration, storage and credentials and
suggest fixes for common issues.

Examples:
  beacon doctor                  # Full environment check
  beacon doctor --provider s3    # Also check AWS credentials for objectfeed jobs`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (detail string, err error)
}

type doctorReport struct {
	out    io.Writer
	total  int
	n      int
	failed int
}

func (r *doctorReport) check(ctx context.Context, c doctorCheck) {
	r.n++
	detail, err := c.run(ctx)
	if err != nil {
		r.failed++
		fmt.Fprintf(r.out, "[%d/%d] %s... FAIL %v\n", r.n, r.total, c.name, err)
		return
	}
	fmt.Fprintf(r.out, "[%d/%d] %s... ok %s\n", r.n, r.total, c.name, detail)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== %s doctor ===\n\n", config.AppName)

	cfg, cfgErr := loadConfig(cmd)
	checks := []doctorCheck{
		{name: "Checking Go version", run: func(context.Context) (string, error) {
			return runtime.Version(), nil
		}},
		{name: "Checking Crucible and Gofulmen", run: func(context.Context) (string, error) {
			v := crucible.GetVersion()
			if v.Crucible == "" || v.Gofulmen == "" {
				return "", fmt.Errorf("version metadata unavailable")
			}
			return fmt.Sprintf("crucible v%s, gofulmen v%s", v.Crucible, v.Gofulmen), nil
		}},
		{name: "Loading configuration", run: func(context.Context) (string, error) {
			if cfgErr != nil {
				return "", cfgErr
			}
			return fmt.Sprintf("gateway=%s reasoning=%s state=%s", cfg.Gateway.Kind, cfg.Reasoning.Provider, cfg.State.Backend), nil
		}},
	}
	if cfgErr == nil {
		checks = append(checks,
			doctorCheck{name: "Checking run credentials", run: func(context.Context) (string, error) {
				return "present", cfg.ValidateForRun()
			}},
			doctorCheck{name: "Checking data directory", run: func(context.Context) (string, error) {
				return checkWritableDir(cfg.Agent.JournalDir)
			}},
			doctorCheck{name: "Checking job catalog", run: func(context.Context) (string, error) {
				return checkCatalog(cfg)
			}},
			doctorCheck{name: "Checking state store", run: func(ctx context.Context) (string, error) {
				return checkStateStore(ctx, cfg)
			}},
			doctorCheck{name: "Checking document sources", run: func(context.Context) (string, error) {
				return checkSources(cfg.Documents)
			}},
		)
	}
	if doctorProvider == "s3" {
		checks = append(checks, doctorCheck{name: "Checking AWS credentials", run: checkAWSCredentials})
	}

	report := &doctorReport{out: out, total: len(checks)}
	for _, c := range checks {
		report.check(ctx, c)
	}

	fmt.Fprintln(out)
	if report.failed > 0 {
		fmt.Fprintf(out, "%d check(s) failed. Review the output above for details.\n", report.failed)
		return exitError(foundry.ExitInvalidArgument, "doctor found problems", nil)
	}
	fmt.Fprintf(out, "All checks passed. Your %s installation is healthy.\n", config.AppName)
	return nil
}

func checkWritableDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return dir, nil
}

func checkCatalog(cfg *config.Config) (string, error) {
	logger := zap.NewNop()
	cat, err := buildCatalog(cfg, jobregistry.NewExecutor(journalStore(cfg), logger), logger)
	if err != nil {
		return "", err
	}
	if _, ok := cat.Pipeline(cfg.Agent.DefaultPipeline); !ok {
		return "", fmt.Errorf("%w: default pipeline %q is not defined in %s", catalog.ErrUnknownPipeline, cfg.Agent.DefaultPipeline, cfg.Agent.CatalogPath)
	}
	return fmt.Sprintf("%d job(s), %d pipeline(s)", len(cat.Jobs()), len(cat.Pipelines())), nil
}

func checkStateStore(ctx context.Context, cfg *config.Config) (string, error) {
	store, client, err := openStateStore(cfg)
	if err != nil {
		return "", err
	}
	if client != nil {
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return "", fmt.Errorf("redis ping: %w", err)
		}
	}
	if _, err := store.Load(ctx); err != nil {
		return "", err
	}
	return store.Describe(), nil
}

func checkSources(sources []docsource.Source) (string, error) {
	if len(sources) == 0 {
		return "none configured", nil
	}
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		docs, err := docsource.Read(src.Path)
		if err != nil {
			return "", fmt.Errorf("source %s: %w", src.Name, err)
		}
		parts = append(parts, fmt.Sprintf("%s=%d", src.Name, len(docs)))
	}
	return strings.Join(parts, " "), nil
}

func checkAWSCredentials(ctx context.Context) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve credentials (set AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY or AWS_PROFILE): %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s from %s", maskAccessKey(creds.AccessKeyID), source), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
