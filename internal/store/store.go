package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Item is a tracked wishlist game. AppID is the source-of-truth identifier
// from the wishlist source.
type Item struct {
	AppID       int64      `db:"app_id" json:"app_id"`
	Title       string     `db:"title" json:"title"`
	URL         string     `db:"url" json:"url"`
	Image       string     `db:"image" json:"image"`
	ITADID      *string    `db:"itad_id" json:"itad_id,omitempty"`
	AddedAt     time.Time  `db:"added_at" json:"added_at"`
	LastChecked *time.Time `db:"last_checked" json:"last_checked,omitempty"`
}

// NeedsITADLookup reports whether the item's price-comparison ID has never
// been resolved. A cached empty string means the source does not track the
// game and the lookup is not retried.
func (i *Item) NeedsITADLookup() bool { return i.ITADID == nil }

// HasITADID reports whether the item maps to a price-comparison entry.
func (i *Item) HasITADID() bool { return i.ITADID != nil && *i.ITADID != "" }

// Quote is the current price for one game at one store.
type Quote struct {
	ID           int64     `db:"id" json:"-"`
	AppID        int64     `db:"app_id" json:"app_id"`
	Store        string    `db:"store" json:"store"`
	PriceCurrent float64   `db:"price_current" json:"price_current"`
	PriceRegular *float64  `db:"price_regular" json:"price_regular,omitempty"`
	Currency     string    `db:"currency" json:"currency"`
	DiscountPct  int       `db:"discount_pct" json:"discount_pct"`
	URL          string    `db:"url" json:"url"`
	FetchedAt    time.Time `db:"fetched_at" json:"fetched_at"`
}

// HistoryEntry is one append-only price observation.
type HistoryEntry struct {
	ID          int64     `db:"id" json:"-"`
	AppID       int64     `db:"app_id" json:"app_id"`
	Store       string    `db:"store" json:"store"`
	Price       float64   `db:"price" json:"price"`
	Currency    string    `db:"currency" json:"currency"`
	DiscountPct int       `db:"discount_pct" json:"discount_pct"`
	RecordedAt  time.Time `db:"recorded_at" json:"recorded_at"`
}

// HistoricLow is the lowest price ever observed for a game at a store.
// RecordedAt may carry a source-reported date; FetchedAt is when we saw it.
type HistoricLow struct {
	ID         int64      `db:"id" json:"-"`
	AppID      int64      `db:"app_id" json:"app_id"`
	Store      string     `db:"store" json:"store"`
	Price      float64    `db:"price" json:"price"`
	Currency   string     `db:"currency" json:"currency"`
	RecordedAt *time.Time `db:"recorded_at" json:"recorded_at,omitempty"`
	FetchedAt  time.Time  `db:"fetched_at" json:"fetched_at"`
}

// Bundle is one bundle appearance for a game.
type Bundle struct {
	ID           int64      `db:"id" json:"-"`
	AppID        int64      `db:"app_id" json:"app_id"`
	BundleTitle  string     `db:"bundle_title" json:"bundle_title"`
	Store        string     `db:"store" json:"store"`
	TierPrice    *float64   `db:"tier_price" json:"tier_price,omitempty"`
	Currency     string     `db:"currency" json:"currency"`
	URL          string     `db:"url" json:"url"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	DiscoveredAt time.Time  `db:"discovered_at" json:"discovered_at"`
}

// Stats summarizes the catalog.
type Stats struct {
	TotalGames      int `json:"total_games"`
	GamesWithPrices int `json:"games_with_prices"`
	TotalBundles    int `json:"total_bundles"`
	HistoryEntries  int `json:"history_entries"`
}

// Store is the persistence interface.
type Store interface {
	UpsertItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, appID int64) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	DeleteItem(ctx context.Context, appID int64) error
	SetITADID(ctx context.Context, appID int64, itadID string) error
	MarkChecked(ctx context.Context, appID int64) error

	UpsertQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, appID int64, storeName string) (*Quote, error)
	ListQuotes(ctx context.Context, appID int64) ([]Quote, error)
	SetDiscount(ctx context.Context, quoteID int64, pct int) error
	BaselinePrice(ctx context.Context, appID int64, storeName string) (*float64, error)

	History(ctx context.Context, appID int64) ([]HistoryEntry, error)
	HistoryCount(ctx context.Context, appID int64) (int, error)
	MinHistoryPrice(ctx context.Context, appID int64, storeName string) (*float64, error)

	UpsertHistoricLow(ctx context.Context, low *HistoricLow) (bool, error)
	GetHistoricLow(ctx context.Context, appID int64, storeName string) (*HistoricLow, error)
	ListHistoricLows(ctx context.Context, appID int64) ([]HistoricLow, error)

	InsertBundle(ctx context.Context, b *Bundle) error
	ListBundles(ctx context.Context, appID int64) ([]Bundle, error)
	CountBundles(ctx context.Context, appID int64) (int, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertItem(ctx context.Context, item *Item) error {
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (app_id, title, url, image, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			title = excluded.title,
			url   = excluded.url,
			image = excluded.image
	`, item.AppID, item.Title, item.URL, item.Image, item.AddedAt)
	if err != nil {
		return fmt.Errorf("upsert game %d: %w", item.AppID, err)
	}
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, appID int64) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, "SELECT * FROM games WHERE app_id = ?", appID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("game %d: %w", appID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get game %d: %w", appID, err)
	}
	return &item, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := s.db.SelectContext(ctx, &items, "SELECT * FROM games ORDER BY title"); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return items, nil
}

// DeleteItem removes a game and, via cascade, all of its quotes, history,
// lows and bundles.
func (s *SQLiteStore) DeleteItem(ctx context.Context, appID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM games WHERE app_id = ?", appID)
	if err != nil {
		return fmt.Errorf("delete game %d: %w", appID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("game %d: %w", appID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SetITADID(ctx context.Context, appID int64, itadID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE games SET itad_id = ? WHERE app_id = ?", itadID, appID)
	if err != nil {
		return fmt.Errorf("set itad id %d: %w", appID, err)
	}
	return nil
}

func (s *SQLiteStore) MarkChecked(ctx context.Context, appID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE games SET last_checked = ? WHERE app_id = ?",
		time.Now().UTC(), appID)
	if err != nil {
		return fmt.Errorf("mark checked %d: %w", appID, err)
	}
	return nil
}

// UpsertQuote overwrites the current price row for (game, store) and appends
// a history entry in the same transaction. History captures the raw observed
// price regardless of any later discount recomputation.
func (s *SQLiteStore) UpsertQuote(ctx context.Context, q *Quote) error {
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert quote: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prices (app_id, store, price_current, price_regular, currency, discount_pct, url, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, store) DO UPDATE SET
			price_current = excluded.price_current,
			price_regular = excluded.price_regular,
			currency      = excluded.currency,
			discount_pct  = excluded.discount_pct,
			url           = excluded.url,
			fetched_at    = excluded.fetched_at
	`, q.AppID, q.Store, q.PriceCurrent, q.PriceRegular, q.Currency, q.DiscountPct, q.URL, q.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert price %d/%s: %w", q.AppID, q.Store, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO price_history (app_id, store, price, currency, discount_pct, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, q.AppID, q.Store, q.PriceCurrent, q.Currency, q.DiscountPct, q.FetchedAt)
	if err != nil {
		return fmt.Errorf("append history %d/%s: %w", q.AppID, q.Store, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert quote: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetQuote(ctx context.Context, appID int64, storeName string) (*Quote, error) {
	var q Quote
	err := s.db.GetContext(ctx, &q,
		"SELECT * FROM prices WHERE app_id = ? AND store = ?", appID, storeName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price %d/%s: %w", appID, storeName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get price %d/%s: %w", appID, storeName, err)
	}
	return &q, nil
}

func (s *SQLiteStore) ListQuotes(ctx context.Context, appID int64) ([]Quote, error) {
	var quotes []Quote
	err := s.db.SelectContext(ctx, &quotes,
		"SELECT * FROM prices WHERE app_id = ? ORDER BY price_current ASC", appID)
	if err != nil {
		return nil, fmt.Errorf("list prices %d: %w", appID, err)
	}
	return quotes, nil
}

func (s *SQLiteStore) SetDiscount(ctx context.Context, quoteID int64, pct int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE prices SET discount_pct = ? WHERE id = ?", pct, quoteID)
	if err != nil {
		return fmt.Errorf("set discount %d: %w", quoteID, err)
	}
	return nil
}

// BaselinePrice returns the regular price recorded for one store's current
// quote, or nil when no such baseline exists.
func (s *SQLiteStore) BaselinePrice(ctx context.Context, appID int64, storeName string) (*float64, error) {
	var baseline sql.NullFloat64
	err := s.db.GetContext(ctx, &baseline,
		"SELECT price_regular FROM prices WHERE app_id = ? AND store = ?", appID, storeName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("baseline %d/%s: %w", appID, storeName, err)
	}
	if !baseline.Valid {
		return nil, nil
	}
	return &baseline.Float64, nil
}

func (s *SQLiteStore) History(ctx context.Context, appID int64) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM price_history WHERE app_id = ? ORDER BY recorded_at DESC, id DESC", appID)
	if err != nil {
		return nil, fmt.Errorf("history %d: %w", appID, err)
	}
	return entries, nil
}

func (s *SQLiteStore) HistoryCount(ctx context.Context, appID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM price_history WHERE app_id = ?", appID)
	if err != nil {
		return 0, fmt.Errorf("history count %d: %w", appID, err)
	}
	return n, nil
}

// MinHistoryPrice returns the lowest price ever logged for (game, store),
// or nil when the pair has no history.
func (s *SQLiteStore) MinHistoryPrice(ctx context.Context, appID int64, storeName string) (*float64, error) {
	var min sql.NullFloat64
	err := s.db.GetContext(ctx, &min,
		"SELECT MIN(price) FROM price_history WHERE app_id = ? AND store = ?", appID, storeName)
	if err != nil {
		return nil, fmt.Errorf("min history %d/%s: %w", appID, storeName, err)
	}
	if !min.Valid {
		return nil, nil
	}
	return &min.Float64, nil
}

// UpsertHistoricLow writes the low only when no record exists or the new
// price is strictly lower. Reports whether a write happened, so callers can
// alert on fresh lows. The stored value never moves upward.
func (s *SQLiteStore) UpsertHistoricLow(ctx context.Context, low *HistoricLow) (bool, error) {
	if low.FetchedAt.IsZero() {
		low.FetchedAt = time.Now().UTC()
	}

	existing, err := s.GetHistoricLow(ctx, low.AppID, low.Store)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if existing != nil {
		if low.Price >= existing.Price {
			return false, nil
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE historic_lows SET price = ?, currency = ?, recorded_at = ?, fetched_at = ?
			WHERE app_id = ? AND store = ?
		`, low.Price, low.Currency, low.RecordedAt, low.FetchedAt, low.AppID, low.Store)
		if err != nil {
			return false, fmt.Errorf("update historic low %d/%s: %w", low.AppID, low.Store, err)
		}
		return true, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO historic_lows (app_id, store, price, currency, recorded_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, low.AppID, low.Store, low.Price, low.Currency, low.RecordedAt, low.FetchedAt)
	if err != nil {
		return false, fmt.Errorf("insert historic low %d/%s: %w", low.AppID, low.Store, err)
	}
	return true, nil
}

func (s *SQLiteStore) GetHistoricLow(ctx context.Context, appID int64, storeName string) (*HistoricLow, error) {
	var low HistoricLow
	err := s.db.GetContext(ctx, &low,
		"SELECT * FROM historic_lows WHERE app_id = ? AND store = ?", appID, storeName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("historic low %d/%s: %w", appID, storeName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get historic low %d/%s: %w", appID, storeName, err)
	}
	return &low, nil
}

func (s *SQLiteStore) ListHistoricLows(ctx context.Context, appID int64) ([]HistoricLow, error) {
	var lows []HistoricLow
	err := s.db.SelectContext(ctx, &lows,
		"SELECT * FROM historic_lows WHERE app_id = ? ORDER BY price ASC", appID)
	if err != nil {
		return nil, fmt.Errorf("list historic lows %d: %w", appID, err)
	}
	return lows, nil
}

// InsertBundle records a bundle appearance. Rediscovery of a known
// (game, title) pair is a no-op.
func (s *SQLiteStore) InsertBundle(ctx context.Context, b *Bundle) error {
	if b.DiscoveredAt.IsZero() {
		b.DiscoveredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO bundles (app_id, bundle_title, store, tier_price, currency, url, expires_at, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.AppID, b.BundleTitle, b.Store, b.TierPrice, b.Currency, b.URL, b.ExpiresAt, b.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("insert bundle %d/%q: %w", b.AppID, b.BundleTitle, err)
	}
	return nil
}

func (s *SQLiteStore) ListBundles(ctx context.Context, appID int64) ([]Bundle, error) {
	var bundles []Bundle
	err := s.db.SelectContext(ctx, &bundles,
		"SELECT * FROM bundles WHERE app_id = ? ORDER BY discovered_at DESC", appID)
	if err != nil {
		return nil, fmt.Errorf("list bundles %d: %w", appID, err)
	}
	return bundles, nil
}

func (s *SQLiteStore) CountBundles(ctx context.Context, appID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM bundles WHERE app_id = ?", appID)
	if err != nil {
		return 0, fmt.Errorf("count bundles %d: %w", appID, err)
	}
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	queries := []struct {
		dst *int
		q   string
	}{
		{&st.TotalGames, "SELECT COUNT(*) FROM games"},
		{&st.GamesWithPrices, "SELECT COUNT(DISTINCT app_id) FROM prices"},
		{&st.TotalBundles, "SELECT COUNT(*) FROM bundles"},
		{&st.HistoryEntries, "SELECT COUNT(*) FROM price_history"},
	}
	for _, q := range queries {
		if err := s.db.GetContext(ctx, q.dst, q.q); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return &st, nil
}
