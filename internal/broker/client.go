package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// Endpoint URLs per environment.
const (
	liveTradingURL  = "https://api.alpaca.markets"
	paperTradingURL = "https://paper-api.alpaca.markets"
	dataURL         = "https://data.alpaca.markets"
)

const (
	headerKey    = "APCA-API-KEY-ID"
	headerSecret = "APCA-API-SECRET-KEY"
)

// ClientConfig assembles an adapter bound to one environment.
type ClientConfig struct {
	Key         string
	Secret      string
	Environment domain.Environment
	Retry       RetryPolicy

	// RequestsPerSecond paces outbound calls; the broker's published limit
	// is 200/min.
	RequestsPerSecond float64

	// BaseURL / DataBaseURL override the defaults (tests point these at a
	// local server).
	BaseURL     string
	DataBaseURL string

	HTTPClient *http.Client
	Logger     zerolog.Logger

	// OnRetry observes each retried request (metrics hook).
	OnRetry func()
}

// Client talks to the broker REST API. One instance is bound to exactly one
// environment; a mismatched request fails before any wire call.
type Client struct {
	cfg     ClientConfig
	baseURL string
	dataURL string
	httpc   *http.Client
	limiter *rate.Limiter
	rng     *rand.Rand
	log     zerolog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		if cfg.Environment == domain.Live {
			base = liveTradingURL
		} else {
			base = paperTradingURL
		}
	}
	data := cfg.DataBaseURL
	if data == "" {
		data = dataURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Client{
		cfg:     cfg,
		baseURL: base,
		dataURL: data,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     cfg.Logger.With().Str("component", "broker").Logger(),
	}
}

// Environment reports which environment this adapter is bound to.
func (c *Client) Environment() domain.Environment {
	return c.cfg.Environment
}

// checkEnvironment gates every submission-path call.
func (c *Client) checkEnvironment(reqEnv domain.Environment) error {
	if reqEnv != "" && reqEnv != c.cfg.Environment {
		return &EnvironmentMismatchError{Expected: c.cfg.Environment, Actual: reqEnv}
	}
	return nil
}

// SubmitOrder posts a new order. Idempotency rides on client_order_id: the
// broker rejects a duplicate rather than double-booking.
func (c *Client) SubmitOrder(ctx context.Context, env domain.Environment, req OrderRequest) (*OrderResponse, error) {
	if err := c.checkEnvironment(env); err != nil {
		return nil, err
	}
	if c.cfg.Environment == domain.Live {
		c.log.Warn().
			Str("symbol", req.Symbol).
			Str("side", req.Side).
			Str("qty", req.Qty.String()).
			Msg("LIVE order submission")
	}

	var out OrderResponse
	err := c.call(ctx, http.MethodPost, c.baseURL+"/v2/orders", req, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder deletes an open order by broker id. 404 maps to
// ErrOrderNotFound; cancelling an already-cancelled order is therefore
// detectable and safe.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return c.call(ctx, http.MethodDelete, c.baseURL+"/v2/orders/"+url.PathEscape(brokerOrderID), nil, nil)
}

// GetOrder fetches one order by broker id.
func (c *Client) GetOrder(ctx context.Context, brokerOrderID string) (*OrderResponse, error) {
	var out OrderResponse
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v2/orders/"+url.PathEscape(brokerOrderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOpenOrders lists all open orders.
func (c *Client) GetOpenOrders(ctx context.Context) ([]OrderResponse, error) {
	var out []OrderResponse
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v2/orders?status=open&limit=500", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccount fetches the account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*AccountResponse, error) {
	var out AccountResponse
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPositions lists open positions.
func (c *Client) GetPositions(ctx context.Context) ([]PositionResponse, error) {
	var out []PositionResponse
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBars fetches candles from the data API.
func (c *Client) GetBars(ctx context.Context, symbols []string, timeframe string, start, end time.Time, limit int) (map[string][]BarResponse, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	q.Set("timeframe", timeframe)
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	var out barsResponse
	if err := c.call(ctx, http.MethodGet, c.dataURL+"/v2/stocks/bars?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Bars, nil
}

// GetQuotes fetches the latest quotes for the symbols.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]QuoteResponse, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	var out quotesResponse
	if err := c.call(ctx, http.MethodGet, c.dataURL+"/v2/stocks/quotes/latest?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Quotes, nil
}

// GetOptionChain lists tradable option contracts for an underlying.
func (c *Client) GetOptionChain(ctx context.Context, underlying string) ([]OptionContractResponse, error) {
	q := url.Values{}
	q.Set("underlying_symbols", underlying)
	q.Set("limit", "1000")

	var out optionContractsResponse
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v2/options/contracts?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.OptionContracts, nil
}

// call runs one authenticated request through the rate limiter and retry
// policy, decoding into out when non-nil.
func (c *Client) call(ctx context.Context, method, fullURL string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return c.cfg.Retry.do(ctx, c.rng, c.cfg.OnRetry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return err
		}
		req.Header.Set(headerKey, c.cfg.Key)
		req.Header.Set(headerSecret, c.cfg.Secret)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}

		if err := categorize(resp.StatusCode, resp.Header, raw); err != nil {
			return err
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return &JSONParseError{Err: err}
			}
		}
		return nil
	})
}

// categorize maps a status code to the typed error taxonomy.
func categorize(status int, header http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthenticationFailed
	case status == http.StatusNotFound:
		return ErrOrderNotFound
	case status == http.StatusUnprocessableEntity:
		var ae apiErrorBody
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			return fmt.Errorf("%w: %s", ErrOrderRejected, ae.Message)
		}
		return ErrOrderRejected
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout:
		var ae apiErrorBody
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			return &APIError{Code: ae.Code, Message: ae.Message}
		}
		return &HTTPError{StatusCode: status, Body: truncate(body)}
	default:
		return &HTTPError{StatusCode: status, Body: truncate(body)}
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
