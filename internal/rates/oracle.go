package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// Oracle serves the KES-per-token conversion rate from an HTTP quote
// source, caching the last successful fetch for a fixed TTL. The cache
// lives for the process lifetime; on expiry exactly one refresh runs at
// a time, and a failed refresh surfaces ErrRateUnavailable rather than
// a rate known to be stale.
type Oracle struct {
	url    string
	apiKey string
	symbol string
	fiat   string
	ttl    time.Duration
	http   *http.Client
	logger *zap.Logger

	mu        sync.RWMutex
	rate      decimal.Decimal
	fetchedAt time.Time

	group singleflight.Group
}

func NewOracle(url, apiKey string, ttl time.Duration, logger *zap.Logger) *Oracle {
	return &Oracle{
		url:    url,
		apiKey: apiKey,
		symbol: "USDC",
		fiat:   "KES",
		ttl:    ttl,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// GetRate returns KES units per one token unit.
func (o *Oracle) GetRate(ctx context.Context) (decimal.Decimal, error) {
	o.mu.RLock()
	if !o.fetchedAt.IsZero() && time.Since(o.fetchedAt) < o.ttl {
		r := o.rate
		o.mu.RUnlock()
		return r, nil
	}
	o.mu.RUnlock()

	v, err, _ := o.group.Do("rate", func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		o.mu.RLock()
		if !o.fetchedAt.IsZero() && time.Since(o.fetchedAt) < o.ttl {
			r := o.rate
			o.mu.RUnlock()
			return r, nil
		}
		o.mu.RUnlock()

		rate, err := o.fetch(ctx)
		if err != nil {
			o.logger.Warn("rate refresh failed", zap.Error(err))
			return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
		}

		o.mu.Lock()
		o.rate = rate
		o.fetchedAt = time.Now()
		o.mu.Unlock()

		o.logger.Info("exchange rate refreshed",
			zap.String("pair", o.symbol+"/"+o.fiat),
			zap.String("rate", rate.String()))
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (o *Oracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	q := req.URL.Query()
	q.Set("symbol", o.symbol)
	q.Set("convert", o.fiat)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-CMC_PRO_API_KEY", o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("quote source returned %d", resp.StatusCode)
	}

	var body struct {
		Data map[string]struct {
			Quote map[string]struct {
				Price float64 `json:"price"`
			} `json:"quote"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, err
	}

	sym, ok := body.Data[o.symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("quote missing symbol %s", o.symbol)
	}
	quote, ok := sym.Quote[o.fiat]
	if !ok || quote.Price <= 0 {
		return decimal.Zero, fmt.Errorf("quote missing %s price", o.fiat)
	}
	return decimal.NewFromFloat(quote.Price), nil
}
