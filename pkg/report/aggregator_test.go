package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/anorvell/dealwatch/internal/store"
	"github.com/anorvell/dealwatch/pkg/source"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.SQLiteStore) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, zerolog.Nop()), s
}

func seedGame(t *testing.T, s *store.SQLiteStore, appID int64, title string) {
	t.Helper()
	if err := s.UpsertItem(context.Background(), &store.Item{AppID: appID, Title: title}); err != nil {
		t.Fatalf("seed game %d: %v", appID, err)
	}
}

func seedQuote(t *testing.T, s *store.SQLiteStore, appID int64, storeName string, price float64, discount int) {
	t.Helper()
	err := s.UpsertQuote(context.Background(), &store.Quote{
		AppID:        appID,
		Store:        storeName,
		PriceCurrent: price,
		Currency:     "GBP",
		DiscountPct:  discount,
	})
	if err != nil {
		t.Fatalf("seed quote %d/%s: %v", appID, storeName, err)
	}
}

func TestDealsBestPriceAndLowOnOneRow(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	seedGame(t, s, 570, "Dota 2")
	seedQuote(t, s, 570, "StoreA", 8.00, 20)
	seedQuote(t, s, 570, "StoreB", 9.50, 5)
	if _, err := s.UpsertHistoricLow(ctx, &store.HistoricLow{AppID: 570, Store: "StoreA", Price: 7.50, Currency: "GBP"}); err != nil {
		t.Fatalf("seed low: %v", err)
	}

	rows, err := agg.Deals(ctx, Filter{})
	if err != nil {
		t.Fatalf("Deals failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	row := rows[0]
	if row.BestStore != "StoreA" {
		t.Errorf("best store = %q, want StoreA", row.BestStore)
	}
	if row.BestPrice == nil || *row.BestPrice != 8.00 {
		t.Errorf("best price = %v, want 8.00", row.BestPrice)
	}
	if row.HistoricLow == nil || *row.HistoricLow != 7.50 {
		t.Errorf("historic low = %v, want 7.50", row.HistoricLow)
	}
}

func TestDealsOrdering(t *testing.T) {
	agg, s := newTestAggregator(t)

	// Highest discount first; among equal discounts prices ascend; games
	// with no price at all come last.
	seedGame(t, s, 1, "Alpha")
	seedQuote(t, s, 1, "Steam", 5.00, 50)
	seedGame(t, s, 2, "Beta")
	seedQuote(t, s, 2, "Steam", 3.00, 50)
	seedGame(t, s, 3, "Gamma")
	seedQuote(t, s, 3, "Steam", 1.00, 10)
	seedGame(t, s, 4, "Delta")

	rows, err := agg.Deals(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Deals failed: %v", err)
	}

	var got []string
	for _, r := range rows {
		got = append(got, r.Title)
	}
	want := []string{"Beta", "Alpha", "Gamma", "Delta"}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestDealsFilters(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	seedGame(t, s, 1, "Hollow Knight")
	seedQuote(t, s, 1, "Steam", 7.00, 50)
	seedGame(t, s, 2, "Celeste")
	seedQuote(t, s, 2, "Steam", 15.00, 0)
	seedGame(t, s, 3, "Hades")
	seedQuote(t, s, 3, "Steam", 17.00, 15)

	rows, err := agg.Deals(ctx, Filter{OnSale: true})
	if err != nil {
		t.Fatalf("Deals on-sale failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("on-sale rows = %d, want 2", len(rows))
	}

	rows, err = agg.Deals(ctx, Filter{MinDiscount: 40})
	if err != nil {
		t.Fatalf("Deals min-discount failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "Hollow Knight" {
		t.Errorf("min-discount rows = %v, want just Hollow Knight", rows)
	}

	// Search is a case-insensitive substring match.
	rows, err = agg.Deals(ctx, Filter{Search: "haD"})
	if err != nil {
		t.Fatalf("Deals search failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "Hades" {
		t.Errorf("search rows = %v, want just Hades", rows)
	}
}

func TestDealsSkipsReferenceStore(t *testing.T) {
	agg, s := newTestAggregator(t)

	seedGame(t, s, 570, "Dota 2")
	// A reference-only low entry must never win the best-price pick even if
	// it somehow lands in the current-price table.
	seedQuote(t, s, 570, source.HistoricLowStore, 1.00, 0)
	seedQuote(t, s, 570, "Steam", 8.00, 0)

	rows, err := agg.Deals(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Deals failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].BestStore != "Steam" {
		t.Errorf("best store = %q, want Steam", rows[0].BestStore)
	}
}

func TestItemDetail(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	seedGame(t, s, 570, "Dota 2")
	seedQuote(t, s, 570, "Steam", 8.00, 20)
	seedQuote(t, s, 570, "Loaded", 7.00, 30)
	if err := s.InsertBundle(ctx, &store.Bundle{AppID: 570, BundleTitle: "Valve Pack", Store: "Humble Bundle", Currency: "USD"}); err != nil {
		t.Fatalf("seed bundle: %v", err)
	}

	d, err := agg.ItemDetail(ctx, 570)
	if err != nil {
		t.Fatalf("ItemDetail failed: %v", err)
	}
	if d.Item.Title != "Dota 2" {
		t.Errorf("title = %q, want Dota 2", d.Item.Title)
	}
	if len(d.Quotes) != 2 {
		t.Errorf("quotes = %d, want 2", len(d.Quotes))
	}
	if len(d.History) != 2 {
		t.Errorf("history = %d, want 2", len(d.History))
	}
	if len(d.Bundles) != 1 {
		t.Errorf("bundles = %d, want 1", len(d.Bundles))
	}

	if _, err := agg.ItemDetail(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown game err = %v, want ErrNotFound", err)
	}
}
