package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	itadBaseURL = "https://api.isthereanydeal.com"

	// Steam's numeric ID in the ITAD shop registry.
	itadSteamShopID = 61

	// Per-request cap on the lookup and price endpoints.
	itadChunkSize = 100
)

// HistoricLowStore labels the price-comparison source's all-time low, which
// is reported without a shop. It is a reference-only entry and never
// competes as a current store price.
const HistoricLowStore = "Historic Low"

// ITAD fetches prices, historic lows and bundles from the IsThereAnyDeal
// API. ITAD identifies games by internal UUIDs; ResolveIDs maps Steam app
// IDs to them and the caller caches the result permanently.
//
// A 403 response means the endpoint has not been approved for this API key.
// That is surfaced as an unauthorized error so the sync skips the whole
// source for the run instead of hammering a denied endpoint per item.
type ITAD struct {
	client   *http.Client
	apiKey   string
	country  string
	throttle *Throttle
	log      zerolog.Logger

	baseURL string
}

// NewITAD creates the price-comparison source.
func NewITAD(apiKey, country string, log zerolog.Logger) *ITAD {
	if country == "" {
		country = "GB"
	}
	return &ITAD{
		client:   &http.Client{Timeout: 30 * time.Second},
		apiKey:   apiKey,
		country:  country,
		throttle: NewThrottle(500 * time.Millisecond),
		log:      log.With().Str("component", "itad").Logger(),
		baseURL:  itadBaseURL,
	}
}

// ResolveIDs maps Steam app IDs to ITAD UUIDs, chunked to the API's batch
// limit. App IDs the source does not track are absent from the result;
// that is a terminal state, not a retryable error.
func (c *ITAD) ResolveIDs(ctx context.Context, appIDs []int64) (map[int64]string, error) {
	result := make(map[int64]string, len(appIDs))

	for start := 0; start < len(appIDs); start += itadChunkSize {
		end := start + itadChunkSize
		if end > len(appIDs) {
			end = len(appIDs)
		}
		chunk := appIDs[start:end]

		payload := make([]string, len(chunk))
		for i, id := range chunk {
			payload[i] = fmt.Sprintf("app/%d", id)
		}

		endpoint := fmt.Sprintf("%s/lookup/id/shop/%d/v1", c.baseURL, itadSteamShopID)
		var resp map[string]*string
		if err := c.postJSON(ctx, endpoint, nil, payload, &resp); err != nil {
			return nil, err
		}

		for i, id := range chunk {
			if uuid := resp[payload[i]]; uuid != nil && *uuid != "" {
				result[id] = *uuid
			}
		}
	}

	c.log.Info().Int("matched", len(result)).Int("requested", len(appIDs)).Msg("resolved ids")
	return result, nil
}

type itadAmount struct {
	Amount *float64 `json:"amount"`
}

type itadPriceEntry struct {
	ID    string `json:"id"`
	Deals []struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
		Price   itadAmount `json:"price"`
		Regular itadAmount `json:"regular"`
		Cut     int        `json:"cut"`
		URL     string     `json:"url"`
	} `json:"deals"`
	HistoryLow struct {
		All itadAmount `json:"all"`
	} `json:"historyLow"`
}

// Prices returns every store's current deal and the source-reported
// all-time low per ITAD ID, both extracted from a single pass over the
// prices endpoint. The endpoint is rate-limit prone, so deals and lows are
// never fetched separately. The low arrives without a shop name and
// carries the reference-only HistoricLowStore label.
func (c *ITAD) Prices(ctx context.Context, ids []string) (map[string]PriceListing, error) {
	result := make(map[string]PriceListing)
	err := c.eachPriceEntry(ctx, ids, func(entry itadPriceEntry) {
		var listing PriceListing
		for _, deal := range entry.Deals {
			if deal.Price.Amount == nil {
				continue
			}
			q := Quote{
				Store:        deal.Shop.Name,
				Origin:       OriginComparison,
				PriceCurrent: *deal.Price.Amount,
				PriceRegular: deal.Regular.Amount,
				Currency:     "GBP",
				URL:          deal.URL,
			}
			cut := deal.Cut
			q.DiscountPct = &cut
			listing.Quotes = append(listing.Quotes, q)
		}
		if entry.HistoryLow.All.Amount != nil {
			listing.Low = &HistoricQuote{
				Store:    HistoricLowStore,
				Price:    *entry.HistoryLow.All.Amount,
				Currency: "GBP",
			}
		}
		if listing.Quotes != nil || listing.Low != nil {
			result[entry.ID] = listing
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *ITAD) eachPriceEntry(ctx context.Context, ids []string, fn func(itadPriceEntry)) error {
	for start := 0; start < len(ids); start += itadChunkSize {
		end := start + itadChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		var entries []itadPriceEntry
		params := url.Values{"country": {c.country}}
		err := c.postJSON(ctx, c.baseURL+"/games/prices/v3", params, ids[start:end], &entries)
		if err != nil {
			if IsUnauthorized(err) {
				return err
			}
			c.log.Warn().Err(err).Int("chunk", start/itadChunkSize+1).Msg("prices chunk failed")
			continue
		}

		for _, entry := range entries {
			fn(entry)
		}
	}
	return nil
}

type itadBundle struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Type   string `json:"type"`
	URL    string `json:"url"`
	Expiry *time.Time `json:"expiry"`
	Tiers  []struct {
		Price itadAmount `json:"price"`
	} `json:"tiers"`
}

// Bundles returns bundle appearances per ITAD ID. The tier price is the
// minimum across a bundle's tiers, in USD.
func (c *ITAD) Bundles(ctx context.Context, ids []string) (map[string][]Bundle, error) {
	result := make(map[string][]Bundle)

	for start := 0; start < len(ids); start += itadChunkSize {
		end := start + itadChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		var resp struct {
			Bundles []itadBundle `json:"bundles"`
		}
		params := url.Values{"country": {c.country}}
		err := c.postJSON(ctx, c.baseURL+"/games/overview/v2", params, ids[start:end], &resp)
		if err != nil {
			if IsUnauthorized(err) {
				return nil, err
			}
			c.log.Warn().Err(err).Int("chunk", start/itadChunkSize+1).Msg("bundles chunk failed")
			continue
		}

		for _, b := range resp.Bundles {
			if b.ID == "" {
				continue
			}
			result[b.ID] = append(result[b.ID], Bundle{
				Title:     b.Title,
				Store:     b.Type,
				TierPrice: minTierPrice(b),
				Currency:  "USD",
				URL:       b.URL,
				ExpiresAt: b.Expiry,
			})
		}
	}
	return result, nil
}

func minTierPrice(b itadBundle) *float64 {
	var min *float64
	for _, tier := range b.Tiers {
		if tier.Price.Amount == nil {
			continue
		}
		if min == nil || *tier.Price.Amount < *min {
			v := *tier.Price.Amount
			min = &v
		}
	}
	return min
}

func (c *ITAD) postJSON(ctx context.Context, endpoint string, params url.Values, body, dst any) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode itad request: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			endpoint+"?"+params.Encode(), bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create itad request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return newError("itad", KindTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return newError("itad", KindUnauthorized,
				fmt.Errorf("status %d; endpoint not approved for this key", resp.StatusCode))
		case resp.StatusCode == http.StatusTooManyRequests:
			c.throttle.Slow()
			return newError("itad", KindRateLimited, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 500:
			return newError("itad", KindTransient, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("itad status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode itad response: %w", err)
		}
		return nil
	}

	if err := withRetry(ctx, call); err != nil {
		return err
	}
	c.throttle.Success()
	return nil
}
