package db

import (
	"context"
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOrderLifecycle(t *testing.T) {
	store := openTestDB(t).Store()
	ctx := context.Background()

	o := Order{
		ClientID: "c-1",
		Venue:    "bybit",
		Symbol:   "BTCUSDT",
		Side:     "BUY",
		Type:     "LIMIT",
		Price:    50000,
		Qty:      0.01,
		Status:   "NEW",
	}
	if err := store.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	if err := store.UpdateOrderStatus(ctx, "c-1", "v-99", "PARTIALLY_FILLED", 0.004); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	got, err := store.GetOrder(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.VenueID != "v-99" {
		t.Errorf("VenueID = %q, want v-99", got.VenueID)
	}
	if got.Status != "PARTIALLY_FILLED" {
		t.Errorf("Status = %q, want PARTIALLY_FILLED", got.Status)
	}
	if got.FilledQty != 0.004 {
		t.Errorf("FilledQty = %v, want 0.004", got.FilledQty)
	}

	// Empty venue id must not erase the stored one.
	if err := store.UpdateOrderStatus(ctx, "c-1", "", "FILLED", 0.01); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	got, err = store.GetOrder(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.VenueID != "v-99" {
		t.Errorf("VenueID after empty update = %q, want v-99", got.VenueID)
	}
}

func TestUpdateUnknownOrder(t *testing.T) {
	store := openTestDB(t).Store()

	err := store.UpdateOrderStatus(context.Background(), "missing", "", "FILLED", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFillsForOrder(t *testing.T) {
	store := openTestDB(t).Store()
	ctx := context.Background()

	if err := store.InsertOrder(ctx, Order{ClientID: "c-2", Venue: "binance", Symbol: "ETHUSDT", Side: "SELL", Type: "LIMIT", Price: 3000, Qty: 1, Status: "NEW"}); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	for _, qty := range []float64{0.4, 0.6} {
		if err := store.InsertFill(ctx, Fill{ClientID: "c-2", Symbol: "ETHUSDT", Side: "SELL", Price: 3000, Qty: qty, IsMaker: true}); err != nil {
			t.Fatalf("InsertFill: %v", err)
		}
	}

	fills, err := store.FillsForOrder(ctx, "c-2")
	if err != nil {
		t.Fatalf("FillsForOrder: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}
	if fills[0].Qty != 0.4 || fills[1].Qty != 0.6 {
		t.Errorf("fill qtys = %v, %v, want 0.4, 0.6", fills[0].Qty, fills[1].Qty)
	}
}
