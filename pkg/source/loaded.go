package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const loadedBaseURL = "https://www.loaded.com"

// Pretend to be a browser; the retailer blocks obvious bots outright.
const loadedUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var poundPrice = regexp.MustCompile(`£\s*([\d.]+)`)

// Loaded scrapes game prices from loaded.com. There is no API: a game's
// page lives at a slug derived from its title, so lookups are best-effort.
// When the direct slug 404s and search fallback is enabled, a bounded set
// of URL variants (year and edition suffixes) is tried before giving up.
//
// The retailer answers aggressive clients with 403, so all calls go
// through an adaptive throttle.
type Loaded struct {
	client         *http.Client
	baseURL        string
	throttle       *Throttle
	searchFallback bool
	log            zerolog.Logger
}

// NewLoaded creates the retailer scrape source.
func NewLoaded(minDelay time.Duration, searchFallback bool, log zerolog.Logger) *Loaded {
	if minDelay <= 0 {
		minDelay = 2 * time.Second
	}
	return &Loaded{
		client:         &http.Client{Timeout: 20 * time.Second},
		baseURL:        loadedBaseURL,
		throttle:       NewThrottle(minDelay),
		searchFallback: searchFallback,
		log:            log.With().Str("component", "loaded").Logger(),
	}
}

// FetchPrice scrapes the current price for a game title. Returns (nil, nil)
// when the game cannot be found or is out of stock; a zero price is never
// reported.
func (l *Loaded) FetchPrice(ctx context.Context, title string) (*Quote, error) {
	slug := Slugify(title)
	if slug == "" {
		return nil, nil
	}

	for _, candidate := range l.candidateURLs(slug) {
		quote, found, err := l.scrapeURL(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if found {
			return quote, nil
		}
		if !l.searchFallback {
			break
		}
	}

	l.log.Debug().Str("title", title).Msg("no page matched")
	return nil, nil
}

// candidateURLs returns the direct slug URL followed by fallback variants:
// recent-year suffixes and common edition suffixes. The list is bounded so
// a missing game costs a fixed number of requests.
func (l *Loaded) candidateURLs(slug string) []string {
	base := fmt.Sprintf("%s/%s-pc-steam", l.baseURL, slug)
	urls := []string{base}

	year := time.Now().Year()
	for i := 0; i < 3; i++ {
		urls = append(urls, fmt.Sprintf("%s/%s-%d-pc-steam", l.baseURL, slug, year-i))
	}
	for _, edition := range []string{"deluxe", "ultimate", "standard"} {
		urls = append(urls, fmt.Sprintf("%s/%s-%s-pc-steam", l.baseURL, slug, edition))
	}
	urls = append(urls, base+"-cd-key")
	return urls
}

// scrapeURL fetches and parses one candidate page. found=false with nil
// error means "try the next variant" (404) or "no usable price".
func (l *Loaded) scrapeURL(ctx context.Context, pageURL string) (*Quote, bool, error) {
	if err := l.throttle.Wait(ctx); err != nil {
		return nil, false, err
	}

	var doc *goquery.Document
	var notFound bool

	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("create loaded request: %w", err)
		}
		req.Header.Set("User-Agent", loadedUserAgent)
		req.Header.Set("Accept-Language", "en-GB,en;q=0.8")

		resp, err := l.client.Do(req)
		if err != nil {
			return newError("loaded", KindTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode == http.StatusForbidden:
			// The retailer signals both rate limiting and IP blocks as
			// 403; back off and let the caller skip the item.
			l.throttle.Slow()
			return newError("loaded", KindRateLimited, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 500:
			return newError("loaded", KindTransient, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("loaded status %d", resp.StatusCode)
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return fmt.Errorf("parse loaded page: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if notFound || doc == nil {
		return nil, false, nil
	}
	l.throttle.Success()

	if unavailable(doc) {
		l.log.Debug().Str("url", pageURL).Msg("listed but unavailable")
		return nil, false, nil
	}

	current, regular := extractPrices(doc)
	if current == nil || *current <= 0 {
		return nil, false, nil
	}
	if regular == nil || *regular < *current {
		regular = current
	}

	q := &Quote{
		Store:        StoreLoaded,
		Origin:       OriginRetailer,
		PriceCurrent: *current,
		PriceRegular: regular,
		Currency:     "GBP",
		URL:          pageURL,
	}
	if *regular > *current {
		cut := int(100 * (*regular - *current) / *regular)
		q.DiscountPct = &cut
	}
	return q, true, nil
}

// unavailable reports out-of-stock and pre-release states. These must read
// as "no data", never as a zero price.
func unavailable(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Text())
	for _, marker := range []string{"sold out", "out of stock", "coming soon", "product not found", "unavailable"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// extractPrices pulls current and regular prices with a fallback chain:
// the structured price blocks first, then a text scan for £ amounts, then
// the embedded metadata price.
func extractPrices(doc *goquery.Document) (current, regular *float64) {
	current = selectionPrice(doc.Find("div.final-price span.price").First())
	regular = selectionPrice(doc.Find("div.old-price span.price").First())

	if current == nil {
		matches := poundPrice.FindAllStringSubmatch(doc.Text(), 2)
		if len(matches) > 0 {
			current = parsePrice(matches[0][1])
		}
		if len(matches) > 1 && regular == nil {
			regular = parsePrice(matches[1][1])
		}
	}

	if current == nil {
		if content, ok := doc.Find(`meta[itemprop="price"]`).Attr("content"); ok {
			current = parsePrice(content)
		}
	}
	return current, regular
}

func selectionPrice(sel *goquery.Selection) *float64 {
	if sel.Length() == 0 {
		return nil
	}
	m := poundPrice.FindStringSubmatch(sel.Text())
	if m == nil {
		return nil
	}
	return parsePrice(m[1])
}

func parsePrice(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "."), 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}
