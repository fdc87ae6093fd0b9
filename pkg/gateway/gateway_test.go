package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage_Short(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitMessage("  hello \n", 100))
	assert.Nil(t, SplitMessage("   ", 100))
}

func TestSplitMessage_PrefersParagraphs(t *testing.T) {
	text := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40) + "\n\n" + strings.Repeat("c", 40)
	chunks := SplitMessage(text, 90)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 40)+"\n\n"+strings.Repeat("b", 40), chunks[0])
	assert.Equal(t, strings.Repeat("c", 40), chunks[1])
}

func TestSplitMessage_FallsBackToSentencesAndWords(t *testing.T) {
	sentence := strings.TrimSpace(strings.Repeat("word ", 8)) + "."
	text := strings.Repeat(sentence+" ", 10)
	chunks := SplitMessage(text, 100)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 100)
		assert.True(t, strings.HasSuffix(c, "."), "chunks end on sentence boundaries: %q", c)
	}
}

func TestSplitMessage_CutsOversizeWords(t *testing.T) {
	text := strings.Repeat("é", 250)
	chunks := SplitMessage(text, 100)

	require.Len(t, chunks, 3)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 50, utf8.RuneCountInString(chunks[2]))
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessage_DefaultLimit(t *testing.T) {
	chunks := SplitMessage(strings.Repeat("x ", 2000), 0)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DefaultChunkLen)
	}
}

func TestInbox_ReturnsQueuedImmediately(t *testing.T) {
	b := NewInbox()
	require.True(t, b.Push(Message{ID: "1", Text: "a"}))
	require.True(t, b.Push(Message{ID: "2", Text: "b"}))

	msgs, err := b.Wait(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, "b", msgs[1].Text)
}

func TestInbox_DropsDuplicates(t *testing.T) {
	b := NewInbox()
	require.True(t, b.Push(Message{ID: "1"}))
	msgs, err := b.Wait(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.False(t, b.Push(Message{ID: "1"}), "an id already delivered is never returned again")
	msgs, err = b.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInbox_WakesOnPush(t *testing.T) {
	b := NewInbox()
	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Push(Message{ID: "late"})
	}()

	start := time.Now()
	msgs, err := b.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInbox_TimeoutAndCancellation(t *testing.T) {
	b := NewInbox()

	msgs, err := b.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Wait(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInbox_Close(t *testing.T) {
	b := NewInbox()
	b.Push(Message{ID: "1"})
	b.Close()
	assert.False(t, b.Push(Message{ID: "2"}))

	msgs, err := b.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "queued messages survive close")

	_, err = b.Wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrClosed))
}
