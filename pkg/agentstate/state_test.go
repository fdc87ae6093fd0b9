package agentstate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMarkCycleComplete(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.SetClock(fixedClock(now))

	s.MarkCycleComplete("all quiet")
	s.MarkCycleComplete("still quiet")

	assert.Equal(t, 2, s.CycleCount)
	assert.Equal(t, now, s.LastCycleAt)
	assert.Equal(t, "still quiet", s.LastSummary)
	assert.True(t, s.LastReasoningCallAt.IsZero(), "cycles do not imply reasoning calls")
}

func TestCooldownElapsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.SetClock(fixedClock(now))

	assert.True(t, s.CooldownElapsed(time.Hour), "never called")

	s.MarkReasoningAttempt()
	assert.False(t, s.CooldownElapsed(time.Hour))

	s.SetClock(fixedClock(now.Add(time.Hour)))
	assert.True(t, s.CooldownElapsed(time.Hour))
}

func TestAddMessage_TrimsOldestFirst(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.AddMessage(RoleUser, fmt.Sprintf("m%d", i), 3)
		assert.LessOrEqual(t, len(s.Conversation), 3)
	}

	require.Len(t, s.Conversation, 3)
	assert.Equal(t, "m2", s.Conversation[0].Content)
	assert.Equal(t, "m4", s.Conversation[2].Content)
}

func TestAddMessage_DefaultLimit(t *testing.T) {
	s := New()
	for i := 0; i < DefaultMaxTurns+5; i++ {
		s.AddMessage(RoleAssistant, "x", 0)
	}
	assert.Len(t, s.Conversation, DefaultMaxTurns)
}

func TestTrimConversation(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.AddMessage(RoleUser, fmt.Sprintf("m%d", i), 20)
	}

	s.TrimConversation(4)
	require.Len(t, s.Conversation, 4)
	assert.Equal(t, "m6", s.Conversation[0].Content)
	assert.Equal(t, "m9", s.Conversation[3].Content)

	s.TrimConversation(10)
	assert.Len(t, s.Conversation, 4)
}

func TestRecentTurns(t *testing.T) {
	s := New()
	s.AddMessage(RoleUser, "a", 10)
	s.AddMessage(RoleAssistant, "b", 10)
	s.AddMessage(RoleUser, "c", 10)

	recent := s.RecentTurns(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Content)
	assert.Equal(t, "c", recent[1].Content)

	recent[0].Content = "mutated"
	assert.Equal(t, "b", s.Conversation[1].Content)

	assert.Len(t, s.RecentTurns(50), 3)
	assert.Nil(t, s.RecentTurns(0))

	s.ResetConversation()
	assert.Empty(t, s.Conversation)
}

func TestSeen(t *testing.T) {
	s := New()
	assert.False(t, s.HasSeen("news", "1"))

	s.MarkSeen("news", "1", "2")
	s.MarkSeen("reports")

	assert.True(t, s.HasSeen("news", "1"))
	assert.False(t, s.HasSeen("reports", "1"))
	assert.Equal(t, 2, s.SeenCount("news"))
	assert.Equal(t, []string{"news"}, s.Sources())
}

func TestSaveLoad_RoundTripResumesCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.SetClock(fixedClock(now))
	s.MarkReasoningAttempt()
	s.MarkCycleComplete("summary")
	s.MarkCycleComplete("summary 2")
	s.AddMessage(RoleUser, "hi", 10)
	s.MarkSeen("news", "b", "a")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CycleCount)
	assert.Equal(t, "summary 2", loaded.LastSummary)
	assert.Equal(t, now, loaded.LastCycleAt)
	assert.Equal(t, now, loaded.LastReasoningCallAt)
	require.Len(t, loaded.Conversation, 1)
	assert.True(t, loaded.HasSeen("news", "a"))
	assert.True(t, loaded.HasSeen("news", "b"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoad_MissingFileIsFreshWithoutError(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 0, s.CycleCount)
}

func TestLoad_CorruptFileFallsBackToFresh(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": "{not json",
		"empty":   "  \n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			s, err := Load(path)
			require.Error(t, err)
			require.NotNil(t, s)
			assert.Equal(t, 0, s.CycleCount)

			s.MarkCycleComplete("x")
			require.NoError(t, s.Save(path), "a fresh state must overwrite the corrupt file")
		})
	}
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	s, err := store.Load(ctx)
	require.NoError(t, err)
	s.MarkCycleComplete("ok")
	require.NoError(t, store.Save(ctx, s))

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.CycleCount)
	assert.Contains(t, store.Describe(), "state.json")
}

type fakeKV struct {
	values map[string]string
	getErr error
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStore(t *testing.T) {
	kv := &fakeKV{values: map[string]string{}}
	store := NewRedisStore(kv, "")
	ctx := context.Background()

	s, err := store.Load(ctx)
	require.NoError(t, err, "a missing key is a fresh state")
	assert.Equal(t, 0, s.CycleCount)

	s.MarkCycleComplete("first")
	s.MarkSeen("news", "1")
	require.NoError(t, store.Save(ctx, s))
	assert.Contains(t, kv.values, DefaultRedisKey)

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.CycleCount)
	assert.True(t, again.HasSeen("news", "1"))
	assert.Equal(t, "redis:"+DefaultRedisKey, store.Describe())
}

func TestRedisStore_FallsBackOnErrors(t *testing.T) {
	ctx := context.Background()

	down := NewRedisStore(&fakeKV{values: map[string]string{}, getErr: errors.New("connection refused")}, "k")
	s, err := down.Load(ctx)
	require.Error(t, err)
	require.NotNil(t, s)

	corrupt := NewRedisStore(&fakeKV{values: map[string]string{"k": "{"}}, "k")
	s, err = corrupt.Load(ctx)
	require.Error(t, err)
	require.NotNil(t, s)
}
