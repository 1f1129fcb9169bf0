// Package gateway is the sole owner of broker credentials and the HTTP
// client that speaks to the broker. It wraps every outbound call in the
// account-scoped rate limiters and circuit breaker, refreshes the bearer
// token transparently, and exposes the internal typed surface the Buy
// Executor, Sell Executor, and Position Monitor depend on. Grounded on the
// original's infra/kis/client.py plus the teacher's auth/auth.go token
// lifecycle.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

// Client is the Broker Gateway's HTTP client, satisfying the GatewayClient
// interfaces declared by buyexecutor, sellexecutor, and monitor.
type Client struct {
	cfg        config.KISConfig
	httpClient *http.Client
	tokens     *TokenManager
	limits     *RateLimiters
	breaker    *CircuitBreaker
	log        zerolog.Logger
}

// New wires a Client against the configured KIS base URL.
func New(cfg config.KISConfig, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     NewTokenManager(cfg),
		limits:     NewRateLimiters(),
		breaker:    NewCircuitBreaker(20, 60*time.Second),
		log:        log,
	}
}

type snapshotResponse struct {
	Price     float64 `json:"price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	ChangePct float64 `json:"change_pct"`
	PER       float64 `json:"per"`
	PBR       float64 `json:"pbr"`
	High52W   float64 `json:"high52w"`
	Low52W    float64 `json:"low52w"`
}

// Snapshot fetches the current price and market snapshot for one code.
func (c *Client) Snapshot(ctx context.Context, code string) (float64, error) {
	var out snapshotResponse
	if err := c.doMarketData(ctx, http.MethodGet, fmt.Sprintf("/uapi/domestic-stock/v1/quotations/inquire-price?code=%s", code), nil, &out); err != nil {
		return 0, err
	}
	return out.Price, nil
}

type dailyPriceRow struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// DailyPrices fetches up to `days` days of daily OHLCV, oldest first.
func (c *Client) DailyPrices(ctx context.Context, code string, days int) (highs, lows, closes []float64, err error) {
	var out struct {
		Rows []dailyPriceRow `json:"rows"`
	}
	path := fmt.Sprintf("/uapi/domestic-stock/v1/quotations/inquire-daily-price?code=%s&days=%d", code, days)
	if err := c.doMarketData(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, nil, nil, err
	}
	highs = make([]float64, len(out.Rows))
	lows = make([]float64, len(out.Rows))
	closes = make([]float64, len(out.Rows))
	for i, row := range out.Rows {
		highs[i] = row.High
		lows[i] = row.Low
		closes[i] = row.Close
	}
	return highs, lows, closes, nil
}

// Buy dispatches a buy order.
func (c *Client) Buy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	var out domain.OrderResult
	err := c.doTrading(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash/buy", req, &out)
	return out, err
}

// Sell dispatches a sell order.
func (c *Client) Sell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	var out domain.OrderResult
	err := c.doTrading(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash/sell", req, &out)
	return out, err
}

// CancelOrder cancels a previously placed order.
func (c *Client) CancelOrder(ctx context.Context, orderNo string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	err := c.doTrading(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-rvsecncl", map[string]string{"order_no": orderNo, "action": "cancel"}, &out)
	return out.Success, err
}

// OrderStatus polls fill state; per the broker contract this never surfaces
// a hard error for "nothing to report" — a nil status with nil error means
// the broker had nothing to report yet.
func (c *Client) OrderStatus(ctx context.Context, orderNo string) (*domain.OrderStatus, error) {
	var out domain.OrderStatus
	path := fmt.Sprintf("/uapi/domestic-stock/v1/trading/inquire-order?order_no=%s", orderNo)
	if err := c.doTrading(ctx, http.MethodGet, path, nil, &out); err != nil {
		var brokerErr *domain.BrokerError
		if errors.As(err, &brokerErr) && brokerErr.MsgCode == "ORDER_NOT_FOUND" {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

type balanceResponse struct {
	Cash      float64           `json:"cash"`
	Total     float64           `json:"total"`
	StockEval float64           `json:"stock_eval"`
	Positions []domain.Position `json:"positions"`
}

// Balance fetches the balance inquiry and returns the account's available cash.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var out balanceResponse
	if err := c.doTrading(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Cash, nil
}

// ListPositions fetches the held-position set, the shared read the Buy
// Executor, Sell Executor, and Position Monitor all depend on.
func (c *Client) ListPositions(ctx context.Context) ([]domain.Position, error) {
	var out balanceResponse
	if err := c.doTrading(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// doMarketData issues a rate-limited, circuit-broken GET/POST through the
// market-data token bucket (the faster of the two).
func (c *Client) doMarketData(ctx context.Context, method, path string, body, out any) error {
	if err := c.limits.waitMarketData(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, body, out)
}

// doTrading issues a rate-limited, circuit-broken call through the slower
// trading/account token bucket.
func (c *Client) doTrading(ctx context.Context, method, path string, body, out any) error {
	if err := c.limits.waitTrading(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	token, err := c.tokens.Get(ctx)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("token fetch failed: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return fmt.Errorf("broker status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var brokerErr domain.BrokerError
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &brokerErr) != nil {
			brokerErr = domain.BrokerError{Message: string(raw)}
		}
		c.breaker.RecordFailure()
		return &brokerErr
	}

	c.breaker.RecordSuccess()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
