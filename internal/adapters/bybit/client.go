package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

const (
	DefaultBaseURL = "https://api.bybit.com"
	TestnetBaseURL = "https://api-testnet.bybit.com"
	DefaultSymbol  = "BTCUSD"

	// Rate limits al ~60% de los documentados.
	// Públicos: 50 req/s → 30/s. Órdenes: 100 req/min → 1 req/s con ráfaga
	// suficiente para reconstruir la escalera entera.
	publicRatePerSec  = 30
	privateRatePerSec = 1
	privateBurst      = 25

	recvWindow     = 5000
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	baseRetryWait  = 500 * time.Millisecond
	maxRetryWait   = 10 * time.Second
	maxOrderPages  = 10
	orderPageLimit = 50
)

// APIError is a non-zero ret_code returned by the REST API.
type APIError struct {
	Path    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: ret_code %d: %s", e.Path, e.Code, e.Message)
}

// ClientConfig configures the REST client. Empty fields use production
// defaults.
type ClientConfig struct {
	BaseURL   string
	Symbol    string
	APIKey    string
	APISecret string
	Testnet   bool
	Timeout   time.Duration
}

// Client es el cliente REST v2 de Bybit con rate limiting, retries y firma.
type Client struct {
	http           *resty.Client
	symbol         string
	apiKey         string
	apiSecret      string
	publicLimiter  *rate.Limiter
	privateLimiter *rate.Limiter
	now            func() time.Time
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
		if cfg.Testnet {
			base = TestnetBaseURL
		}
	}
	if cfg.Symbol == "" {
		cfg.Symbol = DefaultSymbol
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = requestTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(base, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(baseRetryWait).
		SetRetryMaxWaitTime(maxRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			if r.StatusCode() == http.StatusTooManyRequests {
				slog.Warn("bybit: rate limited by API", "path", r.Request.URL)
				if s := r.Header().Get("Retry-After"); s != "" {
					if secs, err := strconv.Atoi(s); err == nil {
						return time.Duration(secs) * time.Second, nil
					}
				}
				return maxRetryWait, nil
			}
			return 0, nil
		})

	return &Client{
		http:           httpClient,
		symbol:         cfg.Symbol,
		apiKey:         cfg.APIKey,
		apiSecret:      cfg.APISecret,
		publicLimiter:  rate.NewLimiter(publicRatePerSec, 10),
		privateLimiter: rate.NewLimiter(privateRatePerSec, privateBurst),
		now:            time.Now,
	}
}

// Symbol returns the traded contract.
func (c *Client) Symbol() string { return c.symbol }

// Ticker returns the current top of book of the symbol.
func (c *Client) Ticker(ctx context.Context) (domain.Quote, error) {
	var tickers []tickerResult
	if _, err := c.get(ctx, "/v2/public/tickers", map[string]string{"symbol": c.symbol}, false, &tickers); err != nil {
		return domain.Quote{}, fmt.Errorf("bybit.Ticker: %w", err)
	}
	for _, t := range tickers {
		if t.Symbol != c.symbol {
			continue
		}
		bid, _ := t.BidPrice.Float64()
		ask, _ := t.AskPrice.Float64()
		last, _ := t.LastPrice.Float64()
		return domain.Quote{Symbol: t.Symbol, Bid: bid, Ask: ask, Last: last, At: c.now()}, nil
	}
	return domain.Quote{}, fmt.Errorf("bybit.Ticker: symbol %s not in response", c.symbol)
}

// Position returns the open position, domain.ErrNotInCycle when flat.
func (c *Client) Position(ctx context.Context) (domain.Position, error) {
	var pos positionResult
	env, err := c.get(ctx, "/v2/private/position/list", map[string]string{"symbol": c.symbol}, true, &pos)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bybit.Position: %w", err)
	}
	return toPosition(pos, env)
}

// OpenOrders returns every New order of the symbol, following the cursor.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	var all []domain.Order
	cursor := ""
	for page := 0; page < maxOrderPages; page++ {
		params := map[string]string{
			"symbol":       c.symbol,
			"order_status": string(domain.StatusNew),
			"limit":        strconv.Itoa(orderPageLimit),
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var res orderListResult
		if _, err := c.get(ctx, "/v2/private/order/list", params, true, &res); err != nil {
			return nil, fmt.Errorf("bybit.OpenOrders: %w", err)
		}
		orders, err := toOrders(res.Data)
		if err != nil {
			return nil, fmt.Errorf("bybit.OpenOrders: %w", err)
		}
		all = append(all, orders...)

		if res.Cursor == "" || len(res.Data) < orderPageLimit {
			return all, nil
		}
		cursor = res.Cursor
	}
	slog.Warn("bybit: open orders truncated", "pages", maxOrderPages, "orders", len(all))
	return all, nil
}

// CreateOrder places a post-only limit order tagged with linkID.
func (c *Client) CreateOrder(ctx context.Context, side domain.Side, price float64, qty int, linkID string) (domain.Order, error) {
	params := map[string]string{
		"side":          fromSide(side),
		"symbol":        c.symbol,
		"order_type":    "Limit",
		"qty":           strconv.Itoa(qty),
		"price":         strconv.FormatFloat(price, 'f', -1, 64),
		"time_in_force": "PostOnly",
		"order_link_id": linkID,
	}
	var res orderResult
	if _, err := c.post(ctx, "/v2/private/order/create", params, &res); err != nil {
		return domain.Order{}, orderError("create", linkID, err)
	}
	order, err := toOrder(res)
	if err != nil {
		return domain.Order{}, fmt.Errorf("bybit.CreateOrder: %w", err)
	}
	if order.Status.Dead() {
		return order, &domain.OrderError{Op: "create", OrderID: order.ID, Reason: res.RejectReason}
	}
	return order, nil
}

// CancelOrder cancels one order by its venue ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	params := map[string]string{"symbol": c.symbol, "order_id": orderID}
	var res orderResult
	if _, err := c.post(ctx, "/v2/private/order/cancel", params, &res); err != nil {
		return domain.Order{}, orderError("cancel", orderID, err)
	}
	order, err := toOrder(res)
	if err != nil {
		return domain.Order{}, fmt.Errorf("bybit.CancelOrder: %w", err)
	}
	return order, nil
}

// CancelAllOrders cancels every active order of the symbol.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	if _, err := c.post(ctx, "/v2/private/order/cancelAll", map[string]string{"symbol": c.symbol}, nil); err != nil {
		return orderError("cancel_all", "", err)
	}
	return nil
}

// orderError turns an API rejection into a domain.OrderError; transport
// errors are wrapped as they are.
func orderError(op, id string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &domain.OrderError{Op: op, OrderID: id, Reason: fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message)}
	}
	return fmt.Errorf("bybit.%s: %w", op, err)
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, private bool, out any) (envelope, error) {
	return c.do(ctx, http.MethodGet, path, params, private, out)
}

func (c *Client) post(ctx context.Context, path string, params map[string]string, out any) (envelope, error) {
	return c.do(ctx, http.MethodPost, path, params, true, out)
}

// do firma (si es privado), aplica el rate limit y decodifica el envelope.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, private bool, out any) (envelope, error) {
	limiter := c.publicLimiter
	if private {
		limiter = c.privateLimiter
		params = c.signed(params)
	}
	if err := limiter.Wait(ctx); err != nil {
		return envelope{}, fmt.Errorf("rate limiter: %w", err)
	}

	req := c.http.R().SetContext(ctx).SetHeader("Accept", "application/json")

	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = req.SetQueryParams(params).Get(path)
	case http.MethodPost:
		resp, err = req.SetHeader("Content-Type", "application/json").SetBody(params).Post(path)
	default:
		return envelope{}, fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return envelope{}, fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode(), resp.String())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return envelope{}, fmt.Errorf("%s %s: decode envelope: %w", method, path, err)
	}
	if env.RetCode != 0 {
		return env, &APIError{Path: path, Code: env.RetCode, Message: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return env, fmt.Errorf("%s %s: decode result: %w", method, path, err)
		}
	}
	return env, nil
}

// signed returns a copy of params with the auth fields and signature.
func (c *Client) signed(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+4)
	for k, v := range params {
		out[k] = v
	}
	out["api_key"] = c.apiKey
	out["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	out["recv_window"] = strconv.Itoa(recvWindow)
	out["sign"] = sign(c.apiSecret, out)
	return out
}
