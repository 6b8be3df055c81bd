package transport

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// A broadcast can race connection teardown: the dispatcher may still hold the
// connection between the transport closing and the close handler
// deregistering it. Send must drop the message instead of panicking.
func TestSendAfterTeardownIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No reader and no buffer, so only the cancelled context is selectable.
	c := &Connection{
		send:   make(chan []byte),
		ctx:    ctx,
		logger: quietLogger(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Send([]byte("late broadcast"))
	}()
	<-done
}

func TestSendBeforeTeardownQueues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &Connection{
		send:   make(chan []byte, 1),
		ctx:    ctx,
		logger: quietLogger(),
	}
	c.Send([]byte("hello"))

	select {
	case msg := <-c.send:
		if string(msg) != "hello" {
			t.Errorf("queued message = %q, want %q", msg, "hello")
		}
	default:
		t.Error("message should have been queued")
	}
}
