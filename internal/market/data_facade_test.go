package market

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/pkg/types"
)

func newTestFacade(t *testing.T, handler http.HandlerFunc) (*DataFacade, func()) {
	t.Helper()
	server := httptest.NewServer(handler)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: server.URL}}
	client := exchange.NewClient(cfg, &exchange.Auth{}, logger)

	f := NewDataFacade(client, logger)
	return f, func() {
		client.Close()
		server.Close()
	}
}

func TestDataFacadeMidpointFound(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mid":"0.55"}`))
	})
	defer cleanup()

	mid, err := f.Midpoint(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("Midpoint: %v", err)
	}
	if mid == nil {
		t.Fatal("expected non-nil midpoint")
	}
	if mid.Mid.String() != "0.55" {
		t.Fatalf("expected mid 0.55, got %s", mid.Mid)
	}
}

func TestDataFacadeMidpointNotFoundReturnsNilNil(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})
	defer cleanup()

	mid, err := f.Midpoint(context.Background(), "unknown-token")
	if err != nil {
		t.Fatalf("expected nil error for a 404, got %v", err)
	}
	if mid != nil {
		t.Fatalf("expected nil result for a 404, got %v", mid)
	}
}

func TestDataFacadeMidpointPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	_, err := f.Midpoint(context.Background(), "tok1")
	if err == nil {
		t.Fatal("expected error for a 500 response")
	}
}

func TestDataFacadeMidpointsBatch(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tok1":{"mid":"0.4"},"tok2":{"mid":"0.6"}}`))
	})
	defer cleanup()

	result, err := f.Midpoints(context.Background(), []string{"tok1", "tok2"})
	if err != nil {
		t.Fatalf("Midpoints: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result))
	}
	if result["tok1"].Mid.String() != "0.4" {
		t.Errorf("tok1 mid = %s, want 0.4", result["tok1"].Mid)
	}
}

// TestDataFacadeOrderBookUpdatesTrackedMirror verifies that fetching a REST
// order book for a token belonging to a tracked market also applies the
// snapshot to that market's local Book mirror.
func TestDataFacadeOrderBookUpdatesTrackedMirror(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"asset_id":"yes-tok","bids":[{"price":"0.55","size":"100"}],"asks":[{"price":"0.57","size":"150"}],"hash":"h1"}`))
	})
	defer cleanup()

	book := f.TrackMarket("mkt-1", "yes-tok", "no-tok")

	if _, ok := book.BestBidAsk(); ok {
		t.Fatal("expected empty book before fetching")
	}

	if _, err := f.OrderBook(context.Background(), "yes-tok"); err != nil {
		t.Fatalf("OrderBook: %v", err)
	}

	bid, ask, ok := book.BestBidAsk()
	if !ok {
		t.Fatal("expected tracked mirror to be updated from the REST fetch")
	}
	if bid != 0.55 || ask != 0.57 {
		t.Fatalf("bid/ask = %v/%v, want 0.55/0.57", bid, ask)
	}
}

// TestDataFacadeOrderBookIgnoresUntrackedToken verifies fetching a token with
// no TrackMarket registration doesn't panic and doesn't create a mirror.
func TestDataFacadeOrderBookIgnoresUntrackedToken(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"asset_id":"untracked-tok","bids":[],"asks":[],"hash":"h1"}`))
	})
	defer cleanup()

	if _, err := f.OrderBook(context.Background(), "untracked-tok"); err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	if _, ok := f.bookForAsset("untracked-tok"); ok {
		t.Fatal("expected no mirror for an untracked token")
	}
}

// TestDataFacadeTrackMarketIdempotent verifies repeated TrackMarket calls for
// the same market ID return the same Book rather than resetting it.
func TestDataFacadeTrackMarketIdempotent(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {})
	defer cleanup()

	a := f.TrackMarket("mkt-1", "yes-tok", "no-tok")
	a.ApplyBookResponse(&types.BookResponse{AssetID: "yes-tok", Bids: []types.PriceLevel{{Price: "0.5", Size: "1"}}, Asks: []types.PriceLevel{{Price: "0.6", Size: "1"}}})

	b := f.TrackMarket("mkt-1", "yes-tok", "no-tok")
	if a != b {
		t.Fatal("expected TrackMarket to return the same Book instance for an already-tracked market")
	}
	if _, ok := b.BestBidAsk(); !ok {
		t.Fatal("expected the second TrackMarket call to preserve existing book state")
	}
}

func TestDataFacadeOrderScoringsFanOut(t *testing.T) {
	t.Parallel()

	f, cleanup := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"scoring":true}`))
	})
	defer cleanup()

	ids := []string{"order-1", "order-2", "order-3"}
	result, err := f.OrderScorings(context.Background(), ids)
	if err != nil {
		t.Fatalf("OrderScorings: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result))
	}
	for _, id := range ids {
		if !result[id].Scoring {
			t.Errorf("expected %s to be scoring", id)
		}
	}
}
