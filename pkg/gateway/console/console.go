// Package console implements gateway.Gateway over line-oriented streams,
// typically stdin and stdout, for local operation.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/beacon/pkg/gateway"
)

// Channel is the only channel a console gateway serves.
const Channel = "console"

// Gateway reads one message per input line and prints replies.
type Gateway struct {
	inbox *gateway.Inbox

	mu  sync.Mutex
	out io.Writer

	once sync.Once
	done chan struct{}
}

var _ gateway.Gateway = (*Gateway)(nil)

// New starts reading lines from in. Replies are written to out.
func New(in io.Reader, out io.Writer) *Gateway {
	g := &Gateway{
		inbox: gateway.NewInbox(),
		out:   out,
		done:  make(chan struct{}),
	}
	go g.read(in)
	return g
}

func (g *Gateway) read(in io.Reader) {
	scanner := bufio.NewScanner(in)
	seq := 0
	for scanner.Scan() {
		select {
		case <-g.done:
			return
		default:
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		seq++
		g.inbox.Push(gateway.Message{
			ID:      strconv.Itoa(seq),
			Channel: Channel,
			Author:  "operator",
			Text:    text,
			SentAt:  time.Now().UTC(),
		})
	}
	g.inbox.Close()
}

func (g *Gateway) Poll(ctx context.Context, timeout time.Duration) ([]gateway.Message, error) {
	return g.inbox.Wait(ctx, timeout)
}

func (g *Gateway) Send(_ context.Context, channel, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, chunk := range gateway.SplitMessage(text, 0) {
		if _, err := fmt.Fprintf(g.out, "[%s] %s\n", channel, chunk); err != nil {
			return fmt.Errorf("console: write: %w", err)
		}
	}
	return nil
}

// SendTyping is a no-op on the console.
func (g *Gateway) SendTyping(context.Context, string) error {
	return nil
}

func (g *Gateway) Close() error {
	g.once.Do(func() {
		close(g.done)
		g.inbox.Close()
	})
	return nil
}
