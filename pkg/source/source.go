package source

import (
	"context"
	"time"
)

// Store names as they appear in the catalog. The wishlist store doubles as
// the canonical discount baseline, so its name is fixed here.
const (
	StoreSteam  = "Steam"
	StoreLoaded = "Loaded"
)

// Origin identifies the adapter a quote came from. Several adapters can
// report a price for the same store; the reconciler accepts the baseline
// store's regular price only from the wishlist adapter.
type Origin string

const (
	OriginWishlist   Origin = "wishlist"
	OriginComparison Origin = "comparison"
	OriginRetailer   Origin = "retailer"
)

// Quote is a normalized price observation from one source for one store.
// PriceRegular is nil when the source reports no baseline of its own;
// DiscountPct is nil when the source did not compute one. Both are
// advisory: stored discounts are always recomputed against the canonical
// baseline, and a non-wishlist origin can never set that baseline.
type Quote struct {
	Store        string
	Origin       Origin
	PriceCurrent float64
	PriceRegular *float64
	Currency     string
	DiscountPct  *int
	URL          string
}

// HistoricQuote is a source-reported all-time low.
type HistoricQuote struct {
	Store      string
	Price      float64
	Currency   string
	RecordedAt *time.Time
}

// PriceListing is one game's answer from the price-comparison source:
// every store's current deal plus the source-reported all-time low. Both
// come from the same API response, so they always travel together.
type PriceListing struct {
	Quotes []Quote
	Low    *HistoricQuote
}

// Bundle is a bundle appearance reported by the price-comparison source.
// TierPrice is the cheapest tier containing the game. Bundle prices are
// reported in USD and stay in USD.
type Bundle struct {
	Title     string
	Store     string
	TierPrice *float64
	Currency  string
	URL       string
	ExpiresAt *time.Time
}

// ItemDetails is the wishlist source's record for one game. Quote is nil
// when the store reports no usable price.
type ItemDetails struct {
	Title string
	URL   string
	Image string
	Quote *Quote
}

// retryAttempts is the cap on transient-failure retries per call.
const retryAttempts = 3

// withRetry runs fn, retrying transient failures with exponential backoff.
// Non-transient failures and context cancellation return immediately.
func withRetry(ctx context.Context, fn func() error) error {
	delay := time.Second
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}
