// Package syncer orchestrates one full price sync: wishlist first, then the
// price-comparison and retailer sources, then per-game reconciliation.
// Failures are isolated per (game, source) pair; only a wishlist failure
// aborts the run, since nothing downstream is meaningful without it.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anorvell/dealwatch/internal/store"
	"github.com/anorvell/dealwatch/pkg/alert"
	"github.com/anorvell/dealwatch/pkg/reconcile"
	"github.com/anorvell/dealwatch/pkg/source"
)

// ErrSyncInFlight is returned when a sync is requested while one is
// already running. The running sync is unaffected.
var ErrSyncInFlight = errors.New("sync already in flight")

// WishlistSource is the entry-point source: the set of tracked games and
// their details.
type WishlistSource interface {
	Wishlist(ctx context.Context) ([]int64, error)
	AppDetails(ctx context.Context, appID int64) (*source.ItemDetails, error)
}

// ComparisonSource aggregates prices across stores, keyed by its own IDs.
// Prices carries each game's deals and its all-time low in one listing.
type ComparisonSource interface {
	ResolveIDs(ctx context.Context, appIDs []int64) (map[int64]string, error)
	Prices(ctx context.Context, ids []string) (map[string]source.PriceListing, error)
	Bundles(ctx context.Context, ids []string) (map[string][]source.Bundle, error)
}

// RetailerSource scrapes a single retailer by game title.
type RetailerSource interface {
	FetchPrice(ctx context.Context, title string) (*source.Quote, error)
}

// Status is a snapshot of the current or most recent run.
type Status struct {
	RunID          string     `json:"run_id,omitempty"`
	Running        bool       `json:"running"`
	Step           string     `json:"step,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	Partial        bool       `json:"partial"`
	Games          int        `json:"games"`
	PricesSaved    int        `json:"prices_saved"`
	NewLows        int        `json:"new_lows"`
	SkippedSources []string   `json:"skipped_sources,omitempty"`
	ItemErrors     int        `json:"item_errors"`
}

// Syncer runs syncs one at a time and exposes their status.
type Syncer struct {
	store      store.Store
	wishlist   WishlistSource
	comparison ComparisonSource // nil when the source is disabled
	retailer   RetailerSource   // nil when the source is disabled
	rec        *reconcile.Reconciler
	alerts     *alert.Manager
	log        zerolog.Logger

	mu      sync.Mutex
	running bool
	status  Status
}

// New creates a Syncer. comparison and retailer may be nil.
func New(
	s store.Store,
	wishlist WishlistSource,
	comparison ComparisonSource,
	retailer RetailerSource,
	rec *reconcile.Reconciler,
	alerts *alert.Manager,
	log zerolog.Logger,
) *Syncer {
	return &Syncer{
		store:      s,
		wishlist:   wishlist,
		comparison: comparison,
		retailer:   retailer,
		rec:        rec,
		alerts:     alerts,
		log:        log.With().Str("component", "sync").Logger(),
	}
}

// Status returns a copy of the current run state for polling.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run executes one full sync. At most one run may be in flight per
// process; a second request fails with ErrSyncInFlight without touching
// the running sync.
func (s *Syncer) Run(ctx context.Context) (Status, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Status{}, ErrSyncInFlight
	}
	started := time.Now().UTC()
	s.running = true
	s.status = Status{
		RunID:     uuid.NewString(),
		Running:   true,
		Step:      "wishlist",
		StartedAt: &started,
	}
	runID := s.status.RunID
	s.mu.Unlock()

	log := s.log.With().Str("run_id", runID).Logger()
	err := s.run(ctx, log)

	s.mu.Lock()
	finished := time.Now().UTC()
	s.running = false
	s.status.Running = false
	s.status.Step = "done"
	s.status.FinishedAt = &finished
	if err != nil {
		s.status.Error = err.Error()
	}
	s.status.Partial = s.status.ItemErrors > 0 || len(s.status.SkippedSources) > 0
	final := s.status
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("sync failed")
	} else {
		log.Info().
			Int("games", final.Games).
			Int("prices", final.PricesSaved).
			Int("new_lows", final.NewLows).
			Bool("partial", final.Partial).
			Msg("sync complete")
	}
	return final, err
}

func (s *Syncer) run(ctx context.Context, log zerolog.Logger) error {
	// The wishlist defines the item set; its failure is the only fatal one.
	appIDs, err := s.wishlist.Wishlist(ctx)
	if err != nil {
		return err
	}

	if err := s.syncNewItems(ctx, log, appIDs); err != nil {
		return err
	}

	items, err := s.store.ListItems(ctx)
	if err != nil {
		return err
	}
	s.setProgress(func(st *Status) { st.Games = len(items) })

	comparison := s.collectComparison(ctx, log, items)
	retail := s.collectRetailer(ctx, log, items)

	s.setStep("reconcile")
	for i := range items {
		item := &items[i]
		if err := s.reconcileItem(ctx, log, item, comparison, retail[item.AppID]); err != nil {
			log.Warn().Err(err).Int64("app_id", item.AppID).Msg("reconcile failed, continuing")
			s.setProgress(func(st *Status) { st.ItemErrors++ })
		}
	}
	return nil
}

// syncNewItems fetches details for wishlist entries not yet in the catalog
// and records their wishlist-store quote, which seeds the canonical
// discount baseline.
func (s *Syncer) syncNewItems(ctx context.Context, log zerolog.Logger, appIDs []int64) error {
	s.setStep("wishlist")
	for _, appID := range appIDs {
		if _, err := s.store.GetItem(ctx, appID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		details, err := s.wishlist.AppDetails(ctx, appID)
		if err != nil {
			if source.IsUnauthorized(err) {
				return err
			}
			log.Warn().Err(err).Int64("app_id", appID).Msg("details fetch failed, skipping item")
			s.setProgress(func(st *Status) { st.ItemErrors++ })
			continue
		}
		if details == nil {
			// Not a game (DLC, soundtrack) or delisted.
			continue
		}

		err = s.store.UpsertItem(ctx, &store.Item{
			AppID: appID,
			Title: details.Title,
			URL:   details.URL,
			Image: details.Image,
		})
		if err != nil {
			return err
		}

		if details.Quote != nil {
			if _, err := s.rec.Apply(ctx, appID, []source.Quote{*details.Quote}); err != nil {
				return err
			}
			s.setProgress(func(st *Status) { st.PricesSaved++ })
		}
		log.Debug().Int64("app_id", appID).Str("title", details.Title).Msg("new game tracked")
	}
	return nil
}

// comparisonData is everything one run pulled from the comparison source.
type comparisonData struct {
	listings map[int64]source.PriceListing
	bundles  map[int64][]source.Bundle
}

// collectComparison resolves IDs and fetches prices, lows and bundles.
// An unauthorized response skips the whole source for this run; nothing
// is written for any game from it.
func (s *Syncer) collectComparison(ctx context.Context, log zerolog.Logger, items []store.Item) *comparisonData {
	if s.comparison == nil {
		return nil
	}
	s.setStep("price-comparison")

	if err := s.rec.ResolveIdentities(ctx, s.comparison, items); err != nil {
		s.skipSource(log, "itad", err)
		return nil
	}

	// Re-read so freshly resolved IDs are visible.
	items, err := s.store.ListItems(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list games after resolve")
		return nil
	}

	idToApp := make(map[string]int64)
	var ids []string
	for i := range items {
		if items[i].HasITADID() {
			idToApp[*items[i].ITADID] = items[i].AppID
			ids = append(ids, *items[i].ITADID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	data := &comparisonData{
		listings: make(map[int64]source.PriceListing),
		bundles:  make(map[int64][]source.Bundle),
	}

	prices, err := s.comparison.Prices(ctx, ids)
	if err != nil {
		s.skipSource(log, "itad", err)
		return nil
	}
	for id, listing := range prices {
		data.listings[idToApp[id]] = listing
	}

	if bundles, err := s.comparison.Bundles(ctx, ids); err != nil {
		log.Warn().Err(err).Msg("bundles unavailable this run")
	} else {
		for id, bs := range bundles {
			data.bundles[idToApp[id]] = bs
		}
	}

	return data
}

// collectRetailer scrapes the retailer for every tracked game. Per-item
// failures never abort the batch; an unauthorized or persistently
// rate-limited source is abandoned for the run.
func (s *Syncer) collectRetailer(ctx context.Context, log zerolog.Logger, items []store.Item) map[int64]*source.Quote {
	result := make(map[int64]*source.Quote)
	if s.retailer == nil {
		return result
	}
	s.setStep("retailer")

	for i := range items {
		item := &items[i]
		quote, err := s.retailer.FetchPrice(ctx, item.Title)
		if err != nil {
			if source.IsUnauthorized(err) {
				s.skipSource(log, "loaded", err)
				return result
			}
			log.Warn().Err(err).Int64("app_id", item.AppID).Str("title", item.Title).
				Msg("retailer fetch failed, continuing")
			s.setProgress(func(st *Status) { st.ItemErrors++ })
			continue
		}
		if quote != nil {
			result[item.AppID] = quote
		}
	}
	return result
}

// reconcileItem merges everything this run observed for one game. All
// adapters have already finished for the item when this runs.
func (s *Syncer) reconcileItem(
	ctx context.Context,
	log zerolog.Logger,
	item *store.Item,
	comparison *comparisonData,
	retailQuote *source.Quote,
) error {
	var quotes []source.Quote
	if comparison != nil {
		quotes = append(quotes, comparison.listings[item.AppID].Quotes...)
	}
	if retailQuote != nil {
		quotes = append(quotes, *retailQuote)
	}

	if len(quotes) > 0 {
		result, err := s.rec.Apply(ctx, item.AppID, quotes)
		if err != nil {
			return err
		}
		s.setProgress(func(st *Status) {
			st.PricesSaved += result.QuotesWritten
			st.NewLows += len(result.NewLows)
		})
		s.notifyLows(ctx, log, item, result.NewLows)
	}

	if comparison != nil {
		if low := comparison.listings[item.AppID].Low; low != nil {
			if err := s.rec.RecordHistoricLow(ctx, item.AppID, *low); err != nil {
				return err
			}
		}
		if err := s.rec.RecordBundles(ctx, item.AppID, comparison.bundles[item.AppID]); err != nil {
			return err
		}
	}

	return s.store.MarkChecked(ctx, item.AppID)
}

func (s *Syncer) notifyLows(ctx context.Context, log zerolog.Logger, item *store.Item, lows []store.HistoricLow) {
	if s.alerts == nil || !s.alerts.HasNotifiers() {
		return
	}
	for _, low := range lows {
		n := &alert.Notification{
			AppID:    item.AppID,
			Title:    item.Title,
			Store:    low.Store,
			Price:    low.Price,
			Currency: low.Currency,
			URL:      item.URL,
		}
		if err := s.alerts.Broadcast(ctx, n); err != nil {
			log.Warn().Err(err).Int64("app_id", item.AppID).Msg("alert delivery failed")
		}
	}
}

func (s *Syncer) setStep(step string) {
	s.mu.Lock()
	s.status.Step = step
	s.mu.Unlock()
}

func (s *Syncer) setProgress(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Syncer) skipSource(log zerolog.Logger, name string, err error) {
	log.Warn().Err(err).Str("source", name).Msg("source skipped for this run")
	s.setProgress(func(st *Status) {
		st.SkippedSources = append(st.SkippedSources, name)
	})
}
