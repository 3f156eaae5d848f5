// Package reconcile merges freshly fetched quotes into the catalog so the
// current-price table, the append-only history and the historic-low cache
// end every sync in a mutually consistent state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/anorvell/dealwatch/internal/store"
	"github.com/anorvell/dealwatch/pkg/source"
)

// BaselineStore is the store whose recorded regular price serves as the
// single canonical discount baseline across all stores. Each store's
// self-reported "regular" price is kept for reference but never trusted
// for discount computation.
const BaselineStore = source.StoreSteam

// Reconciler applies one item's quotes to the catalog.
type Reconciler struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a Reconciler.
func New(s store.Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store: s,
		log:   log.With().Str("component", "reconcile").Logger(),
	}
}

// Result summarizes one item's reconciliation.
type Result struct {
	QuotesWritten int
	// NewLows holds historic lows that beat a previously recorded value.
	// First-ever records are written but not reported here, so a fresh
	// database does not fire an alert per game.
	NewLows []store.HistoricLow
}

// DiscountPct computes the discount of price against baseline, rounded to
// the nearest percent and clamped to [0, 100]. A price above the baseline
// clamps to 0, never negative.
func DiscountPct(baseline, price float64) int {
	if baseline <= 0 {
		return 0
	}
	pct := int(math.Round(100 * (baseline - price) / baseline))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Apply writes one item's quotes from all sources for this run: per-store
// upsert plus history append, then the discount recompute pass, then the
// historic-low update for every observed (item, store) pair.
//
// Discounts are written as 0 and only the recompute pass sets them; a
// source's own discount figure is computed against its own regular price
// and never stored. The baseline store's regular price is accepted from
// the wishlist adapter alone — comparison sources also list that store
// and would otherwise move the baseline every quote should be judged by.
func (r *Reconciler) Apply(ctx context.Context, appID int64, quotes []source.Quote) (*Result, error) {
	res := &Result{}
	now := time.Now().UTC()

	baseline, err := r.store.BaselinePrice(ctx, appID, BaselineStore)
	if err != nil {
		return nil, err
	}

	stores := make([]string, 0, len(quotes))
	currencies := make(map[string]string, len(quotes))
	for i := range quotes {
		q := &quotes[i]

		regular := q.PriceRegular
		if q.Store == BaselineStore && q.Origin != source.OriginWishlist {
			regular = baseline
		}
		err := r.store.UpsertQuote(ctx, &store.Quote{
			AppID:        appID,
			Store:        q.Store,
			PriceCurrent: q.PriceCurrent,
			PriceRegular: regular,
			Currency:     q.Currency,
			DiscountPct:  0,
			URL:          q.URL,
			FetchedAt:    now,
		})
		if err != nil {
			return nil, err
		}
		res.QuotesWritten++
		stores = append(stores, q.Store)
		currencies[q.Store] = q.Currency
	}

	if err := r.RecomputeDiscounts(ctx, appID); err != nil {
		return nil, err
	}

	for _, storeName := range stores {
		newLow, err := r.updateLowFromHistory(ctx, appID, storeName, currencies[storeName])
		if err != nil {
			return nil, err
		}
		if newLow != nil {
			res.NewLows = append(res.NewLows, *newLow)
		}
	}

	return res, nil
}

// RecomputeDiscounts recomputes the discount of every current quote for one
// item against the canonical baseline. When no baseline has been recorded
// the pass is skipped and every stored discount stays at the zero it was
// written with; guessing a baseline would poison every store's discount at
// once.
//
// The pass is idempotent: with unchanged inputs it leaves stored values
// unchanged.
func (r *Reconciler) RecomputeDiscounts(ctx context.Context, appID int64) error {
	baseline, err := r.store.BaselinePrice(ctx, appID, BaselineStore)
	if err != nil {
		return err
	}
	if baseline == nil || *baseline <= 0 {
		r.log.Debug().Int64("app_id", appID).Msg("no baseline, discount recompute skipped")
		return nil
	}

	quotes, err := r.store.ListQuotes(ctx, appID)
	if err != nil {
		return err
	}
	for _, q := range quotes {
		pct := DiscountPct(*baseline, q.PriceCurrent)
		if pct == q.DiscountPct {
			continue
		}
		if err := r.store.SetDiscount(ctx, q.ID, pct); err != nil {
			return err
		}
	}
	return nil
}

// updateLowFromHistory refreshes the cached historic low for (item, store)
// from the immutable history log. Deriving from history rather than the
// current-quote row keeps the cache correct under any future change to
// current-quote retention. Returns the written low when it beat an
// existing record.
func (r *Reconciler) updateLowFromHistory(ctx context.Context, appID int64, storeName, currency string) (*store.HistoricLow, error) {
	min, err := r.store.MinHistoryPrice(ctx, appID, storeName)
	if err != nil {
		return nil, err
	}
	if min == nil {
		return nil, nil
	}

	existing, err := r.store.GetHistoricLow(ctx, appID, storeName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	low := &store.HistoricLow{
		AppID:    appID,
		Store:    storeName,
		Price:    *min,
		Currency: currency,
	}
	written, err := r.store.UpsertHistoricLow(ctx, low)
	if err != nil {
		return nil, err
	}
	if written && existing != nil {
		return low, nil
	}
	return nil, nil
}

// RecordHistoricLow stores a source-reported all-time low, keeping the
// source's recorded date when it supplied one. Subject to the same
// strictly-lower rule as derived lows.
func (r *Reconciler) RecordHistoricLow(ctx context.Context, appID int64, hq source.HistoricQuote) error {
	if hq.Price <= 0 {
		return nil
	}
	_, err := r.store.UpsertHistoricLow(ctx, &store.HistoricLow{
		AppID:      appID,
		Store:      hq.Store,
		Price:      hq.Price,
		Currency:   hq.Currency,
		RecordedAt: hq.RecordedAt,
	})
	return err
}

// RecordBundles stores bundle appearances; rediscoveries are no-ops.
func (r *Reconciler) RecordBundles(ctx context.Context, appID int64, bundles []source.Bundle) error {
	for _, b := range bundles {
		err := r.store.InsertBundle(ctx, &store.Bundle{
			AppID:       appID,
			BundleTitle: b.Title,
			Store:       b.Store,
			TierPrice:   b.TierPrice,
			Currency:    b.Currency,
			URL:         b.URL,
			ExpiresAt:   b.ExpiresAt,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// IDResolver maps wishlist app IDs to the price-comparison source's
// internal identifiers.
type IDResolver interface {
	ResolveIDs(ctx context.Context, appIDs []int64) (map[int64]string, error)
}

// ResolveIdentities resolves and permanently caches the price-comparison ID
// for every item that has never been looked up. An ID the source does not
// know is cached as empty — "not tracked there" is a terminal state, not a
// retryable error, so it is not looked up again on later runs.
func (r *Reconciler) ResolveIdentities(ctx context.Context, resolver IDResolver, items []store.Item) error {
	var pending []int64
	for i := range items {
		if items[i].NeedsITADLookup() {
			pending = append(pending, items[i].AppID)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	resolved, err := resolver.ResolveIDs(ctx, pending)
	if err != nil {
		return fmt.Errorf("resolve ids: %w", err)
	}

	for _, appID := range pending {
		if err := r.store.SetITADID(ctx, appID, resolved[appID]); err != nil {
			return err
		}
	}
	r.log.Info().Int("resolved", len(resolved)).Int("pending", len(pending)).Msg("identity resolution complete")
	return nil
}
