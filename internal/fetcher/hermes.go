package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const hermesLatestPath = "/v2/updates/price/latest"

// HermesOptions parameterise the Pyth Hermes price reader.
type HermesOptions struct {
	BaseURL   string
	Feeds     map[string]string
	Timeout   time.Duration
	UserAgent string
	// RateLimit is requests per second across all assets; zero disables limiting.
	RateLimit float64
	// MaxRetry bounds the total time spent retrying one fetch.
	MaxRetry time.Duration
}

// Hermes fetches parsed prices from a Pyth Hermes endpoint.
type Hermes struct {
	opts    HermesOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewHermes constructs a Hermes fetcher.
func NewHermes(opts HermesOptions, logger zerolog.Logger) *Hermes {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Hermes{
		opts:    opts,
		logger:  logger.With().Str("component", "hermes_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: limiter,
	}
}

// Fetch retrieves the latest parsed price for asset.
func (h *Hermes) Fetch(ctx context.Context, asset string) (float64, error) {
	feedID, ok := h.opts.Feeds[asset]
	if !ok || feedID == "" {
		return 0, fmt.Errorf("no hermes feed configured for %s", asset)
	}

	var price decimal.Decimal
	operation := func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		p, err := h.fetchOnce(ctx, feedID)
		if err != nil {
			return err
		}
		price = p
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 200 * time.Millisecond
	strategy.MaxElapsedTime = h.opts.MaxRetry
	if strategy.MaxElapsedTime <= 0 {
		strategy.MaxElapsedTime = 3 * time.Second
	}

	notify := func(err error, wait time.Duration) {
		h.logger.Debug().Err(err).Str("asset", asset).Dur("retry_in", wait).Msg("hermes fetch failed, retrying")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(strategy, ctx), notify); err != nil {
		return 0, fmt.Errorf("hermes %s: %w", asset, err)
	}

	if !price.IsPositive() {
		return 0, fmt.Errorf("hermes returned non-positive price %s for %s", price.String(), asset)
	}
	return price.InexactFloat64(), nil
}

func (h *Hermes) fetchOnce(ctx context.Context, feedID string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Add("ids[]", feedID)
	query.Set("parsed", "true")
	endpoint := h.baseURL + hermesLatestPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "sentinel/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := fmt.Errorf("hermes api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return decimal.Decimal{}, backoff.Permanent(httpErr)
		}
		return decimal.Decimal{}, httpErr
	}

	var body hermesResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("decode hermes response: %w", err))
	}

	want := strings.TrimPrefix(strings.ToLower(feedID), "0x")
	for _, item := range body.Parsed {
		if strings.TrimPrefix(strings.ToLower(item.ID), "0x") != want {
			continue
		}
		mantissa, err := decimal.NewFromString(item.Price.Price)
		if err != nil {
			return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("parse price: %w", err))
		}
		return mantissa.Shift(item.Price.Expo), nil
	}
	return decimal.Decimal{}, backoff.Permanent(errors.New("feed missing from hermes response"))
}

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

var _ PriceSource = (*Hermes)(nil)
