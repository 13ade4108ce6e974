package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"subnet-delegation-service/internal/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	DefaultPriceFeedURL = "https://hermes.pyth.network"
	// TAOUSDFeedID is the Pyth price feed for TAO/USD.
	TAOUSDFeedID = "0x410f41de235f2db824e562ea7ab2d3d3d4ff048316c61d629c0b93f58584e1af"
)

type PriceFeed interface {
	FetchPrice(ctx context.Context) (float64, error)
}

type PriceResponse struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// Value returns price * 10^expo.
func (p PriceResponse) Value() (float64, error) {
	d, err := decimal.NewFromString(p.Price.Price)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", p.Price.Price, err)
	}
	return d.Shift(p.Price.Expo).InexactFloat64(), nil
}

type PythClient struct {
	apiURL     string
	feedID     string
	ttl        time.Duration
	httpClient *http.Client
	clock      clockwork.Clock

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time
}

type PythOption func(*PythClient)

func WithCacheTTL(ttl time.Duration) PythOption {
	return func(c *PythClient) { c.ttl = ttl }
}

func WithHTTPClient(hc *http.Client) PythOption {
	return func(c *PythClient) { c.httpClient = hc }
}

func WithClock(clock clockwork.Clock) PythOption {
	return func(c *PythClient) { c.clock = clock }
}

func NewPythClient(apiURL, feedID string, opts ...PythOption) *PythClient {
	if apiURL == "" {
		apiURL = DefaultPriceFeedURL
	}
	if feedID == "" {
		feedID = TAOUSDFeedID
	}
	c := &PythClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		feedID:     feedID,
		ttl:        30 * time.Second,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPrice returns the latest TAO/USD price, served from cache while it
// is younger than the TTL.
func (c *PythClient) FetchPrice(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.clock.Since(c.fetchedAt) < c.ttl {
		return c.price, nil
	}

	price, err := c.fetch(ctx)
	metrics.RecordPriceFetch(err)
	if err != nil {
		return 0, err
	}
	c.price = price
	c.fetchedAt = c.clock.Now()
	return price, nil
}

func (c *PythClient) fetch(ctx context.Context) (float64, error) {
	u, err := url.Parse(c.apiURL + "/api/latest_price_feeds")
	if err != nil {
		return 0, err
	}
	query := u.Query()
	query.Add("ids[]", c.feedID)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var feeds []PriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	if len(feeds) == 0 {
		return 0, errors.New("price feed returned no data")
	}
	return feeds[0].Value()
}

var _ PriceFeed = (*PythClient)(nil)
