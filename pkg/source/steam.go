package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	steamWishlistURL   = "https://api.steampowered.com/IWishlistService/GetWishlist/v1"
	steamAppDetailsURL = "https://store.steampowered.com/api/appdetails"
)

// Steam fetches the wishlist and per-game details from the Steam Web API.
// Wishlist prices arrive in pence and are converted to pounds. A price is
// only usable when the store reports both the current and the initial
// amount; without the initial there is no trustworthy baseline and the
// game's prices come from the other sources instead.
type Steam struct {
	client   *http.Client
	steamID  string
	apiKey   string
	throttle *Throttle
	log      zerolog.Logger

	wishlistURL   string
	appDetailsURL string
}

// NewSteam creates the wishlist source. Detail fetches run at one request
// per second, which is comfortably inside Steam's limits.
func NewSteam(steamID, apiKey string, log zerolog.Logger) *Steam {
	return &Steam{
		client:        &http.Client{Timeout: 15 * time.Second},
		steamID:       steamID,
		apiKey:        apiKey,
		throttle:      NewThrottle(time.Second),
		log:           log.With().Str("component", "steam").Logger(),
		wishlistURL:   steamWishlistURL,
		appDetailsURL: steamAppDetailsURL,
	}
}

// Wishlist returns the wishlisted app IDs in the user's priority order.
func (s *Steam) Wishlist(ctx context.Context) ([]int64, error) {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("steamid", s.steamID)
	q.Set("count", "5000")

	var resp struct {
		Response struct {
			Items []struct {
				AppID int64 `json:"appid"`
			} `json:"items"`
		} `json:"response"`
	}

	err := withRetry(ctx, func() error {
		return s.getJSON(ctx, s.wishlistURL+"?"+q.Encode(), &resp)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Response.Items) == 0 {
		s.log.Warn().Msg("wishlist empty; profile and game details must be public")
		return nil, nil
	}

	ids := make([]int64, 0, len(resp.Response.Items))
	for _, it := range resp.Response.Items {
		ids = append(ids, it.AppID)
	}
	s.log.Info().Int("count", len(ids)).Msg("wishlist fetched")
	return ids, nil
}

type steamAppDetails struct {
	Success bool `json:"success"`
	Data    struct {
		Type          string `json:"type"`
		Name          string `json:"name"`
		HeaderImage   string `json:"header_image"`
		PriceOverview *struct {
			Final   int64 `json:"final"`
			Initial int64 `json:"initial"`
		} `json:"price_overview"`
	} `json:"data"`
}

// AppDetails returns title, URLs and the store's own quote for one game.
// Returns (nil, nil) when the app is unknown or is not a game.
func (s *Steam) AppDetails(ctx context.Context, appID int64) (*ItemDetails, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("appids", strconv.FormatInt(appID, 10))
	q.Set("cc", "gb")
	q.Set("l", "en")

	var resp map[string]steamAppDetails
	err := withRetry(ctx, func() error {
		return s.getJSON(ctx, s.appDetailsURL+"?"+q.Encode(), &resp)
	})
	if err != nil {
		return nil, err
	}
	s.throttle.Success()

	app, ok := resp[strconv.FormatInt(appID, 10)]
	if !ok || !app.Success {
		return nil, nil
	}
	if app.Data.Type != "game" {
		return nil, nil
	}

	storeURL := fmt.Sprintf("https://store.steampowered.com/app/%d/", appID)
	details := &ItemDetails{
		Title: app.Data.Name,
		URL:   storeURL,
		Image: app.Data.HeaderImage,
	}

	if po := app.Data.PriceOverview; po != nil && po.Final > 0 && po.Initial > 0 {
		current := float64(po.Final) / 100.0
		regular := float64(po.Initial) / 100.0
		details.Quote = &Quote{
			Store:        StoreSteam,
			Origin:       OriginWishlist,
			PriceCurrent: current,
			PriceRegular: &regular,
			Currency:     "GBP",
			URL:          storeURL,
		}
	}

	return details, nil
}

func (s *Steam) getJSON(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create steam request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return newError("steam", KindTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError("steam", KindUnauthorized, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return newError("steam", KindNotFound, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		s.throttle.Slow()
		return newError("steam", KindRateLimited, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return newError("steam", KindTransient, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("steam status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode steam response: %w", err)
	}
	return nil
}
