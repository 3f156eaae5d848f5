// Package report derives the deals view consumed by the CLI and the HTTP
// API: one row per game with its best current price, all-time low and
// bundle count.
package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anorvell/dealwatch/internal/store"
	"github.com/anorvell/dealwatch/pkg/source"
)

// Row is one game in the deals report. BestPrice is nil when no store
// currently carries the game; such rows still appear so a game with only a
// historic low is not silently dropped.
type Row struct {
	AppID        int64      `json:"app_id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Image        string     `json:"image,omitempty"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
	BestStore    string     `json:"best_store,omitempty"`
	BestPrice    *float64   `json:"best_price,omitempty"`
	BestDiscount int        `json:"best_discount"`
	Currency     string     `json:"currency,omitempty"`
	HistoricLow  *float64   `json:"historic_low,omitempty"`
	NumBundles   int        `json:"num_bundles"`
}

// Filter narrows the deals report.
type Filter struct {
	OnSale      bool
	MinDiscount int
	Search      string
}

// Detail is the full per-game view: every current quote, the complete
// history, recorded lows and bundle appearances.
type Detail struct {
	Item    store.Item           `json:"game"`
	Quotes  []store.Quote        `json:"prices"`
	History []store.HistoryEntry `json:"history"`
	Lows    []store.HistoricLow  `json:"historic_lows"`
	Bundles []store.Bundle       `json:"bundles"`
}

// Aggregator reads the catalog and produces report rows.
type Aggregator struct {
	store store.Store
	log   zerolog.Logger
}

// New creates an Aggregator.
func New(s store.Store, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		store: s,
		log:   log.With().Str("component", "report").Logger(),
	}
}

// Deals builds the filtered report across all games, ordered by best
// discount descending, then price ascending; games with no current price
// sort last. The order is total: title breaks any remaining tie.
func (a *Aggregator) Deals(ctx context.Context, f Filter) ([]Row, error) {
	items, err := a.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	rows := make([]Row, 0, len(items))

	for i := range items {
		item := &items[i]
		if search != "" && !strings.Contains(strings.ToLower(item.Title), search) {
			continue
		}

		row, err := a.buildRow(ctx, item)
		if err != nil {
			return nil, err
		}

		if f.OnSale && row.BestDiscount <= 0 {
			continue
		}
		if f.MinDiscount > 0 && row.BestDiscount < f.MinDiscount {
			continue
		}
		rows = append(rows, *row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return lessRow(&rows[i], &rows[j])
	})
	return rows, nil
}

func (a *Aggregator) buildRow(ctx context.Context, item *store.Item) (*Row, error) {
	row := &Row{
		AppID:       item.AppID,
		Title:       item.Title,
		URL:         item.URL,
		Image:       item.Image,
		LastChecked: item.LastChecked,
	}

	quotes, err := a.store.ListQuotes(ctx, item.AppID)
	if err != nil {
		return nil, err
	}
	if best := bestQuote(quotes); best != nil {
		row.BestStore = best.Store
		row.BestPrice = &best.PriceCurrent
		row.BestDiscount = best.DiscountPct
		row.Currency = best.Currency
	}

	lows, err := a.store.ListHistoricLows(ctx, item.AppID)
	if err != nil {
		return nil, err
	}
	for _, low := range lows {
		if row.HistoricLow == nil || low.Price < *row.HistoricLow {
			p := low.Price
			row.HistoricLow = &p
		}
	}

	row.NumBundles, err = a.store.CountBundles(ctx, item.AppID)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// bestQuote picks the cheapest current quote; price ties break on store
// name so the choice is deterministic. Reference-only entries never hold a
// current price row, so they cannot win here.
func bestQuote(quotes []store.Quote) *store.Quote {
	var best *store.Quote
	for i := range quotes {
		q := &quotes[i]
		if q.Store == source.HistoricLowStore {
			continue
		}
		switch {
		case best == nil:
			best = q
		case q.PriceCurrent < best.PriceCurrent:
			best = q
		case q.PriceCurrent == best.PriceCurrent && q.Store < best.Store:
			best = q
		}
	}
	return best
}

func lessRow(a, b *Row) bool {
	if a.BestDiscount != b.BestDiscount {
		return a.BestDiscount > b.BestDiscount
	}
	switch {
	case a.BestPrice == nil && b.BestPrice == nil:
		return a.Title < b.Title
	case a.BestPrice == nil:
		return false
	case b.BestPrice == nil:
		return true
	case *a.BestPrice != *b.BestPrice:
		return *a.BestPrice < *b.BestPrice
	}
	return a.Title < b.Title
}

// ItemDetail returns the full view for one game.
func (a *Aggregator) ItemDetail(ctx context.Context, appID int64) (*Detail, error) {
	item, err := a.store.GetItem(ctx, appID)
	if err != nil {
		return nil, err
	}

	d := &Detail{Item: *item}
	if d.Quotes, err = a.store.ListQuotes(ctx, appID); err != nil {
		return nil, err
	}
	if d.History, err = a.store.History(ctx, appID); err != nil {
		return nil, err
	}
	if d.Lows, err = a.store.ListHistoricLows(ctx, appID); err != nil {
		return nil, err
	}
	if d.Bundles, err = a.store.ListBundles(ctx, appID); err != nil {
		return nil, err
	}
	return d, nil
}

// Stats returns catalog summary counts.
func (a *Aggregator) Stats(ctx context.Context) (*store.Stats, error) {
	return a.store.Stats(ctx)
}
