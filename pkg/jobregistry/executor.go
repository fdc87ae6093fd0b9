package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/engine"
)

// stderrTail bounds how much of stderr is quoted in a failure.
const stderrTail = 512

// Command describes an external process run as a job.
type Command struct {
	Name    string
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Executor runs command jobs, capturing stdout/stderr into the run's journal
// directory.
type Executor struct {
	store  *Store
	logger *zap.Logger
}

func NewExecutor(store *Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, logger: logger}
}

func (e *Executor) Store() *Store {
	return e.store
}

// Run executes cmd and waits for it. The run id is taken from ctx when the
// job runs under the engine.
//
// A non-zero exit becomes *catalog.ExitError. Cancelling ctx kills the
// process.
func (e *Executor) Run(ctx context.Context, cmd Command) error {
	if e == nil || e.store == nil {
		return fmt.Errorf("executor is not initialized")
	}
	if strings.TrimSpace(cmd.Path) == "" {
		return fmt.Errorf("command is required")
	}

	runID, ok := engine.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
	}
	if err := os.MkdirAll(e.store.RunDir(runID), 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	stdoutFile, err := os.Create(e.store.StdoutPath(runID))
	if err != nil {
		return fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.store.StderrPath(runID))
	if err != nil {
		return fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = stdoutFile
	c.Stderr = stderrFile
	c.WaitDelay = 5 * time.Second

	e.logger.Debug("starting command",
		zap.String("job", cmd.Name),
		zap.String("run_id", runID),
		zap.String("path", cmd.Path),
		zap.Strings("args", cmd.Args),
	)

	err = c.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if runCtx.Err() != nil {
		return fmt.Errorf("%s timed out after %s: %w", cmd.Name, cmd.Timeout, runCtx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := lastLine(e.store.StderrPath(runID))
		var cause error
		if detail != "" {
			cause = errors.New(detail)
		}
		return &catalog.ExitError{Code: exitErr.ExitCode(), Err: cause}
	}
	return fmt.Errorf("run %s: %w", cmd.Name, err)
}

// Job wraps cmd as a catalog job bound to this executor.
func (e *Executor) Job(name, description string, cmd Command) catalog.JobDefinition {
	if cmd.Name == "" {
		cmd.Name = name
	}
	return catalog.JobDefinition{
		Name:        name,
		Description: description,
		Execute: func(ctx context.Context) error {
			return e.Run(ctx, cmd)
		},
	}
}

// lastLine returns the final non-empty line among the last bytes of path.
func lastLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - stderrTail
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
