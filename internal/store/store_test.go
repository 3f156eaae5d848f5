package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addItem(t *testing.T, s *SQLiteStore, appID int64, title string) {
	t.Helper()
	err := s.UpsertItem(context.Background(), &Item{
		AppID: appID,
		Title: title,
		URL:   "https://store.example.com/app/570",
	})
	if err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
}

func TestUpsertAndGetItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	item, err := s.GetItem(ctx, 570)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Title != "Dota 2" {
		t.Errorf("title = %q, want %q", item.Title, "Dota 2")
	}
	if item.AddedAt.IsZero() {
		t.Error("AddedAt not set")
	}
	if !item.NeedsITADLookup() {
		t.Error("new item should need an ID lookup")
	}

	// Upserting again keeps the row and updates the title.
	addItem(t, s, 570, "Dota 2 (updated)")
	item, err = s.GetItem(ctx, 570)
	if err != nil {
		t.Fatalf("GetItem after upsert failed: %v", err)
	}
	if item.Title != "Dota 2 (updated)" {
		t.Errorf("title after upsert = %q, want updated", item.Title)
	}
}

func TestGetItemNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetItem(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetITADID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	if err := s.SetITADID(ctx, 570, "018d937e-uuid"); err != nil {
		t.Fatalf("SetITADID failed: %v", err)
	}
	item, err := s.GetItem(ctx, 570)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !item.HasITADID() {
		t.Fatal("item should have an ID after SetITADID")
	}

	// An empty cached ID means "resolved, not tracked": no further lookups,
	// but also no usable mapping.
	if err := s.SetITADID(ctx, 570, ""); err != nil {
		t.Fatalf("SetITADID empty failed: %v", err)
	}
	item, _ = s.GetItem(ctx, 570)
	if item.NeedsITADLookup() {
		t.Error("empty ID should still count as resolved")
	}
	if item.HasITADID() {
		t.Error("empty ID should not count as a usable mapping")
	}
}

func TestUpsertQuoteAppendsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	regular := 10.0
	for _, price := range []float64{8.0, 8.0, 7.0} {
		err := s.UpsertQuote(ctx, &Quote{
			AppID:        570,
			Store:        "Steam",
			PriceCurrent: price,
			PriceRegular: &regular,
			Currency:     "GBP",
		})
		if err != nil {
			t.Fatalf("UpsertQuote failed: %v", err)
		}
	}

	// Current price table holds one row per (game, store).
	quotes, err := s.ListQuotes(ctx, 570)
	if err != nil {
		t.Fatalf("ListQuotes failed: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("quotes = %d, want 1", len(quotes))
	}
	if quotes[0].PriceCurrent != 7.0 {
		t.Errorf("current price = %.2f, want 7.00", quotes[0].PriceCurrent)
	}

	// History is append-only: one entry per observation.
	n, err := s.HistoryCount(ctx, 570)
	if err != nil {
		t.Fatalf("HistoryCount failed: %v", err)
	}
	if n != 3 {
		t.Errorf("history entries = %d, want 3", n)
	}

	min, err := s.MinHistoryPrice(ctx, 570, "Steam")
	if err != nil {
		t.Fatalf("MinHistoryPrice failed: %v", err)
	}
	if min == nil || *min != 7.0 {
		t.Errorf("min history price = %v, want 7.00", min)
	}
}

func TestBaselinePrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	// No quote yet: nil, nil.
	p, err := s.BaselinePrice(ctx, 570, "Steam")
	if err != nil {
		t.Fatalf("BaselinePrice failed: %v", err)
	}
	if p != nil {
		t.Fatalf("baseline = %v, want nil", p)
	}

	regular := 10.0
	if err := s.UpsertQuote(ctx, &Quote{AppID: 570, Store: "Steam", PriceCurrent: 8.0, PriceRegular: &regular, Currency: "GBP"}); err != nil {
		t.Fatalf("UpsertQuote failed: %v", err)
	}

	p, err = s.BaselinePrice(ctx, 570, "Steam")
	if err != nil {
		t.Fatalf("BaselinePrice failed: %v", err)
	}
	if p == nil || *p != 10.0 {
		t.Errorf("baseline = %v, want 10.00", p)
	}
}

func TestHistoricLowOnlyLowers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	written, err := s.UpsertHistoricLow(ctx, &HistoricLow{AppID: 570, Store: "Steam", Price: 8.0, Currency: "GBP"})
	if err != nil {
		t.Fatalf("UpsertHistoricLow failed: %v", err)
	}
	if !written {
		t.Fatal("first low should be written")
	}

	// A higher price never replaces the recorded low.
	written, err = s.UpsertHistoricLow(ctx, &HistoricLow{AppID: 570, Store: "Steam", Price: 9.0, Currency: "GBP"})
	if err != nil {
		t.Fatalf("UpsertHistoricLow failed: %v", err)
	}
	if written {
		t.Error("higher price should not replace the low")
	}

	// Equal price is not a new low either.
	written, _ = s.UpsertHistoricLow(ctx, &HistoricLow{AppID: 570, Store: "Steam", Price: 8.0, Currency: "GBP"})
	if written {
		t.Error("equal price should not replace the low")
	}

	written, err = s.UpsertHistoricLow(ctx, &HistoricLow{AppID: 570, Store: "Steam", Price: 6.5, Currency: "GBP"})
	if err != nil {
		t.Fatalf("UpsertHistoricLow failed: %v", err)
	}
	if !written {
		t.Fatal("lower price should replace the low")
	}

	low, err := s.GetHistoricLow(ctx, 570, "Steam")
	if err != nil {
		t.Fatalf("GetHistoricLow failed: %v", err)
	}
	if low.Price != 6.5 {
		t.Errorf("low = %.2f, want 6.50", low.Price)
	}
}

func TestDeleteItemCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")
	if err := s.UpsertQuote(ctx, &Quote{AppID: 570, Store: "Steam", PriceCurrent: 8.0, Currency: "GBP"}); err != nil {
		t.Fatalf("UpsertQuote failed: %v", err)
	}
	if _, err := s.UpsertHistoricLow(ctx, &HistoricLow{AppID: 570, Store: "Steam", Price: 8.0, Currency: "GBP"}); err != nil {
		t.Fatalf("UpsertHistoricLow failed: %v", err)
	}
	if err := s.InsertBundle(ctx, &Bundle{AppID: 570, BundleTitle: "Valve Pack", Store: "Humble Bundle", Currency: "USD"}); err != nil {
		t.Fatalf("InsertBundle failed: %v", err)
	}

	if err := s.DeleteItem(ctx, 570); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}

	if _, err := s.GetItem(ctx, 570); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem after delete = %v, want ErrNotFound", err)
	}
	quotes, _ := s.ListQuotes(ctx, 570)
	if len(quotes) != 0 {
		t.Errorf("quotes after delete = %d, want 0", len(quotes))
	}
	n, _ := s.HistoryCount(ctx, 570)
	if n != 0 {
		t.Errorf("history after delete = %d, want 0", n)
	}
	lows, _ := s.ListHistoricLows(ctx, 570)
	if len(lows) != 0 {
		t.Errorf("lows after delete = %d, want 0", len(lows))
	}
	bundles, _ := s.ListBundles(ctx, 570)
	if len(bundles) != 0 {
		t.Errorf("bundles after delete = %d, want 0", len(bundles))
	}

	if err := s.DeleteItem(ctx, 570); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestBundleDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	price := 12.0
	b := &Bundle{AppID: 570, BundleTitle: "Valve Pack", Store: "Humble Bundle", TierPrice: &price, Currency: "USD"}
	if err := s.InsertBundle(ctx, b); err != nil {
		t.Fatalf("InsertBundle failed: %v", err)
	}
	// Same bundle seen on a later sync is not duplicated.
	if err := s.InsertBundle(ctx, b); err != nil {
		t.Fatalf("InsertBundle repeat failed: %v", err)
	}

	n, err := s.CountBundles(ctx, 570)
	if err != nil {
		t.Fatalf("CountBundles failed: %v", err)
	}
	if n != 1 {
		t.Errorf("bundles = %d, want 1", n)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")
	addItem(t, s, 620, "Portal 2")
	if err := s.UpsertQuote(ctx, &Quote{AppID: 570, Store: "Steam", PriceCurrent: 8.0, Currency: "GBP"}); err != nil {
		t.Fatalf("UpsertQuote failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalGames != 2 {
		t.Errorf("total games = %d, want 2", stats.TotalGames)
	}
	if stats.GamesWithPrices != 1 {
		t.Errorf("games with prices = %d, want 1", stats.GamesWithPrices)
	}
	if stats.HistoryEntries != 1 {
		t.Errorf("history entries = %d, want 1", stats.HistoryEntries)
	}
}

func TestMarkChecked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addItem(t, s, 570, "Dota 2")

	before, _ := s.GetItem(ctx, 570)
	if before.LastChecked != nil {
		t.Fatal("LastChecked should start unset")
	}

	if err := s.MarkChecked(ctx, 570); err != nil {
		t.Fatalf("MarkChecked failed: %v", err)
	}
	after, _ := s.GetItem(ctx, 570)
	if after.LastChecked == nil {
		t.Fatal("LastChecked not set")
	}
	if time.Since(*after.LastChecked) > time.Minute {
		t.Errorf("LastChecked = %v, want recent", *after.LastChecked)
	}
}
