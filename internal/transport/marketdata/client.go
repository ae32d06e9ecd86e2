// Package marketdata fetches live quote snapshots from an HTTP JSON quote API.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Config holds the quote API settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Source        string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Client implements domain.MarketDataProvider.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	source  string
	limiter *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger
}

// quote is the wire shape of GET {base}/quote/{ticker}. Missing metrics are null.
type quote struct {
	Ticker            string   `json:"ticker"`
	Currency          string   `json:"currency"`
	CurrentPrice      *float64 `json:"current_price"`
	MarketCap         *float64 `json:"market_cap"`
	SharesOutstanding *float64 `json:"shares_outstanding"`
	FiftyTwoWeekLow   *float64 `json:"52_week_low"`
	FiftyTwoWeekHigh  *float64 `json:"52_week_high"`
	PERatio           *float64 `json:"pe_ratio"`
	Beta              *float64 `json:"beta"`
	DividendYield     *float64 `json:"dividend_yield"`
}

// NewClient creates a rate-limited quote client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		source:  cfg.Source,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
		logger:  logger,
	}
}

// Snapshot fetches the current metrics for one ticker. Every failure wraps
// domain.ErrMarketDataUnavailable.
func (c *Client) Snapshot(ctx context.Context, ticker string) (market.Snapshot, error) {
	ticker = market.NormalizeTicker(ticker)
	if ticker == "" {
		return market.Snapshot{}, fmt.Errorf("empty ticker: %w", domain.ErrMarketDataUnavailable)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.MarketDataRequestsTotal.WithLabelValues("rate_limited").Inc()
		return market.Snapshot{}, fmt.Errorf("quote %s: %v: %w", ticker, err, domain.ErrMarketDataUnavailable)
	}

	q, err := c.fetch(ctx, ticker)
	if err != nil {
		metrics.MarketDataRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("market data fetch failed", zap.String("ticker", ticker), zap.Error(err))
		return market.Snapshot{}, fmt.Errorf("quote %s: %w", ticker, err)
	}
	metrics.MarketDataRequestsTotal.WithLabelValues("success").Inc()

	return c.toSnapshot(ticker, q), nil
}

func (c *Client) fetch(ctx context.Context, ticker string) (quote, error) {
	endpoint := c.baseURL + "/quote/" + url.PathEscape(ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return quote{}, fmt.Errorf("build request: %v: %w", err, domain.ErrMarketDataUnavailable)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return quote{}, fmt.Errorf("request: %v: %w", err, domain.ErrMarketDataUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return quote{}, fmt.Errorf("read body: %v: %w", err, domain.ErrMarketDataUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return quote{}, fmt.Errorf("status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrMarketDataUnavailable)
	}

	var q quote
	if err := json.Unmarshal(body, &q); err != nil {
		return quote{}, fmt.Errorf("decode: %v: %w", err, domain.ErrMarketDataUnavailable)
	}
	if q.CurrentPrice == nil && q.MarketCap == nil {
		return quote{}, fmt.Errorf("no price or market cap: %w", domain.ErrMarketDataUnavailable)
	}
	return q, nil
}

func (c *Client) toSnapshot(ticker string, q quote) market.Snapshot {
	fetchedAt := c.now()
	field := func(v *float64) market.Field {
		if v == nil {
			return market.Field{}
		}
		return market.NewField(*v, fetchedAt)
	}
	currency := q.Currency
	if currency == "" {
		currency = "USD"
	}
	return market.Snapshot{
		Ticker:            ticker,
		Source:            c.source,
		Currency:          currency,
		Price:             field(q.CurrentPrice),
		MarketCap:         field(q.MarketCap),
		SharesOutstanding: field(q.SharesOutstanding),
		FiftyTwoWeekLow:   field(q.FiftyTwoWeekLow),
		FiftyTwoWeekHigh:  field(q.FiftyTwoWeekHigh),
		PERatio:           field(q.PERatio),
		Beta:              field(q.Beta),
		DividendYield:     field(q.DividendYield),
	}
}

// HealthCheck reports whether the quote API answers at all.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("market data health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("market data health: status %d", resp.StatusCode)
	}
	return nil
}
