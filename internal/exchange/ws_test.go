package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"polymarket-mm/pkg/clobtypes"
)

// TestRunExhaustsReconnectsAgainstUnreachableURL verifies Run gives up with
// a typed ReconnectExhausted error after maxReconnects consecutive dial
// failures, rather than retrying forever.
func TestRunExhaustsReconnectsAgainstUnreachableURL(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	feed := NewMarketFeed("ws://127.0.0.1:1/does-not-exist", logger)
	feed.SetMaxReconnects(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := feed.Run(ctx)
	if err == nil {
		t.Fatal("expected an error once reconnect attempts are exhausted")
	}
	e, ok := clobtypes.AsError(err)
	if !ok {
		t.Fatalf("expected a clobtypes.Error, got %T: %v", err, err)
	}
	if e.Kind != clobtypes.KindStream || e.StreamSubKind != clobtypes.StreamSubKindReconnectExhausted {
		t.Fatalf("expected StreamSubKindReconnectExhausted, got kind=%v subkind=%v", e.Kind, e.StreamSubKind)
	}
}

// TestRunStopsOnContextCancel verifies Run returns ctx.Err() (not a
// reconnect-exhaustion error) when the caller cancels rather than letting
// the dial failures run out the budget first.
func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	feed := NewMarketFeed("ws://127.0.0.1:1/does-not-exist", logger)
	feed.SetMaxReconnects(1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
