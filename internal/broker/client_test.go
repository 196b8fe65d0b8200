package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		Key:         "test-key",
		Secret:      "test-secret",
		Environment: domain.Paper,
		BaseURL:     srv.URL,
		DataBaseURL: srv.URL,
		Retry: RetryPolicy{
			Initial:     time.Millisecond,
			Max:         5 * time.Millisecond,
			Multiplier:  2,
			MaxAttempts: 3,
		},
		RequestsPerSecond: 1000,
		Logger:            zerolog.Nop(),
	})
	return c, srv
}

func TestSubmitOrderSendsAuthHeaders(t *testing.T) {
	var gotKey, gotSecret string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(headerKey)
		gotSecret = r.Header.Get(headerSecret)
		w.Write([]byte(`{"id":"bkr-1","client_order_id":"ord-1","symbol":"AAPL","qty":"10","filled_qty":"0","status":"accepted"}`))
	}))

	resp, err := c.SubmitOrder(context.Background(), domain.Paper, OrderRequest{
		Symbol: "AAPL", Qty: decimal.NewFromInt(10), Side: "buy", Type: "market",
		TimeInForce: "day", ClientOrderID: "ord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bkr-1", resp.ID)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "test-secret", gotSecret)
}

func TestEnvironmentMismatchFailsBeforeWire(t *testing.T) {
	hit := false
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))

	_, err := c.SubmitOrder(context.Background(), domain.Live, OrderRequest{Symbol: "AAPL"})
	var em *EnvironmentMismatchError
	require.ErrorAs(t, err, &em)
	assert.Equal(t, domain.Paper, em.Expected)
	assert.Equal(t, domain.Live, em.Actual)
	assert.False(t, hit, "no wire call on mismatch")
}

func TestRetryOn5xxThenSuccess(t *testing.T) {
	var calls atomic.Int32
	retries := 0
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id":"acct","equity":"100000","cash":"50000","buying_power":"200000"}`))
	}))
	c.cfg.OnRetry = func() { retries++ }

	acct, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, retries)
	assert.Equal(t, "100000", acct.Equity.String())
}

func TestRetryExhaustion(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.GetAccount(context.Background())
	var mre *MaxRetriesExceededError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 3, mre.Attempts)
}

func TestNonRetryable4xx(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	}))

	_, err := c.SubmitOrder(context.Background(), domain.Paper, OrderRequest{Symbol: "AAPL"})
	require.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "insufficient buying power")
	assert.Equal(t, int32(1), calls.Load(), "4xx does not retry")
}

func TestAuthFailureMapsToTypedError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := c.GetAccount(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestCancelNotFound(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	err := c.CancelOrder(context.Background(), "missing-id")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	startTimes := make([]time.Time, 0, 2)
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTimes = append(startTimes, time.Now())
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"acct","equity":"1","cash":"1","buying_power":"1"}`))
	}))

	_, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	require.Len(t, startTimes, 2)
	assert.GreaterOrEqual(t, startTimes[1].Sub(startTimes[0]), 900*time.Millisecond,
		"second attempt waits for Retry-After")
}

func TestRetryAfterParsing(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestCategorize(t *testing.T) {
	h := http.Header{}
	assert.NoError(t, categorize(200, h, nil))

	err := categorize(429, h, nil)
	var rl *RateLimitedError
	assert.ErrorAs(t, err, &rl)

	assert.True(t, errors.Is(categorize(401, h, nil), ErrAuthenticationFailed))
	assert.True(t, errors.Is(categorize(404, h, nil), ErrOrderNotFound))

	err = categorize(400, h, []byte(`{"code":40010001,"message":"invalid symbol"}`))
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 40010001, ae.Code)

	var he *HTTPError
	assert.ErrorAs(t, categorize(500, h, []byte("boom")), &he)

	ok, _ := retryable(categorize(500, h, nil))
	assert.True(t, ok)
	ok, _ = retryable(categorize(408, h, nil))
	assert.True(t, ok)
	ok, _ = retryable(categorize(400, h, nil))
	assert.False(t, ok)
}

func TestGetBarsAndQuotes(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/stocks/bars":
			assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
			assert.Equal(t, "1Min", r.URL.Query().Get("timeframe"))
			w.Write([]byte(`{"bars":{"AAPL":[{"t":"2026-03-02T15:00:00Z","o":"100","h":"101","l":"99","c":"100.5","v":"1000"}]}}`))
		case r.URL.Path == "/v2/stocks/quotes/latest":
			w.Write([]byte(`{"quotes":{"AAPL":{"t":"2026-03-02T15:00:00Z","bp":"100","bs":"3","ap":"100.04","as":"2"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	bars, err := c.GetBars(context.Background(), []string{"AAPL"}, "1Min", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, bars["AAPL"], 1)
	assert.Equal(t, "100.5", bars["AAPL"][0].Close.String())

	quotes, err := c.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "100.04", quotes["AAPL"].AskPrice.String())
}
