package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/pkg/gateway"
)

func TestConsole_PollAndSend(t *testing.T) {
	var out bytes.Buffer
	g := New(strings.NewReader("/status\n\n  hello  \n"), &out)

	var got []gateway.Message
	for len(got) < 2 {
		msgs, err := g.Poll(context.Background(), time.Second)
		if errors.Is(err, gateway.ErrClosed) {
			break
		}
		require.NoError(t, err)
		got = append(got, msgs...)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "/status", got[0].Text)
	assert.Equal(t, "hello", got[1].Text)
	assert.Equal(t, Channel, got[1].Channel)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	require.NoError(t, g.Send(context.Background(), Channel, "ok"))
	assert.Equal(t, "[console] ok\n", out.String())
	assert.NoError(t, g.SendTyping(context.Background(), Channel))
}

func TestConsole_EOFClosesInbox(t *testing.T) {
	g := New(strings.NewReader(""), &bytes.Buffer{})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := g.Poll(context.Background(), 50*time.Millisecond)
		if errors.Is(err, gateway.ErrClosed) {
			require.NoError(t, g.Close())
			return
		}
	}
	t.Fatal("poll never reported closed after EOF")
}
