package jobregistry

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/engine"
)

func shell(script string) Command {
	return Command{Name: "test", Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestExecutor_CapturesOutput(t *testing.T) {
	store := NewStore(t.TempDir())
	ex := NewExecutor(store, nil)

	cat, err := catalog.New([]catalog.JobDefinition{ex.Job("hello", "", shell("echo hello; echo warn >&2"))}, nil)
	require.NoError(t, err)
	eng := engine.New(cat, engine.WithRecorder(store))

	require.True(t, eng.StartJob(context.Background(), "hello"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Wait(ctx))

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.StatusCompleted, runs[0].State)
	require.NotEmpty(t, runs[0].StdoutPath)

	out, err := os.ReadFile(runs[0].StdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	errOut, err := os.ReadFile(runs[0].StderrPath)
	require.NoError(t, err)
	assert.Equal(t, "warn\n", string(errOut))
}

func TestExecutor_NonZeroExit(t *testing.T) {
	ex := NewExecutor(NewStore(t.TempDir()), nil)

	err := ex.Run(context.Background(), shell("echo first >&2; echo 'disk full' >&2; exit 3"))
	require.Error(t, err)

	var exitErr *catalog.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, err.Error(), "disk full")
}

func TestExecutor_Timeout(t *testing.T) {
	ex := NewExecutor(NewStore(t.TempDir()), nil)
	cmd := shell("sleep 5")
	cmd.Timeout = 50 * time.Millisecond

	err := ex.Run(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, strings.Contains(err.Error(), "timed out"))
}

func TestExecutor_ParentCancellation(t *testing.T) {
	ex := NewExecutor(NewStore(t.TempDir()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := ex.Run(ctx, shell("sleep 5"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExecutor_Validation(t *testing.T) {
	var nilExec *Executor
	require.Error(t, nilExec.Run(context.Background(), shell("true")))

	ex := NewExecutor(NewStore(t.TempDir()), nil)
	require.Error(t, ex.Run(context.Background(), Command{Name: "empty"}))
	require.Error(t, ex.Run(context.Background(), Command{Name: "missing", Path: "/definitely/not/here"}))
}
