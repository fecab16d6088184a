package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

func quoteServer(t *testing.T, price float64, fail *atomic.Bool, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail != nil && fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"data":{"USDC":{"quote":{"KES":{"price":%f}}}}}`, price)
	}))
}

func TestGetRateCachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, 130.0, nil, &hits)
	defer srv.Close()

	o := NewOracle(srv.URL, "test-key", 10*time.Minute, zap.NewNop())

	first, err := o.GetRate(context.Background())
	require.NoError(t, err)
	second, err := o.GetRate(context.Background())
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.EqualValues(t, 1, hits.Load(), "second call within TTL must not hit upstream")
}

func TestGetRateRefreshesAfterTTL(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, 131.5, nil, &hits)
	defer srv.Close()

	o := NewOracle(srv.URL, "test-key", 20*time.Millisecond, zap.NewNop())

	_, err := o.GetRate(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	rate, err := o.GetRate(context.Background())
	require.NoError(t, err)

	assert.True(t, rate.Equal(decimal.NewFromFloat(131.5)))
	assert.EqualValues(t, 2, hits.Load(), "expiry must trigger exactly one refresh")
}

func TestGetRateFailsClosedOnStaleRefresh(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	srv := quoteServer(t, 130.0, &fail, &hits)
	defer srv.Close()

	o := NewOracle(srv.URL, "test-key", 20*time.Millisecond, zap.NewNop())

	_, err := o.GetRate(context.Background())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	fail.Store(true)

	_, err = o.GetRate(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateUnavailable,
		"stale rate must not be served after a failed refresh")
}

func TestGetRateUnreachableSource(t *testing.T) {
	o := NewOracle("http://127.0.0.1:1", "test-key", time.Minute, zap.NewNop())
	_, err := o.GetRate(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)
}

func TestGetRateConcurrentSingleFetch(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, 130.0, nil, &hits)
	defer srv.Close()

	o := NewOracle(srv.URL, "test-key", 10*time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.GetRate(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, hits.Load(), "concurrent cold reads must collapse to one fetch")
}
