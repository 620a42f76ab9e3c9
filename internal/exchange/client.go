package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client is the exchange surface the hedger consumes: spot price,
// listing metadata, order books, open positions, and market IOC buys.
// Everything is request/response; no streaming surface exists here.
type Client interface {
	LastPrice(ctx context.Context, spotSymbol string) (int64, error)
	Instruments(ctx context.Context, baseCoin string) ([]string, error)
	AskDepth(ctx context.Context, sym string) (int, error)
	OrderBook(ctx context.Context, sym string) (Book, error)
	Positions(ctx context.Context, baseCoin string) ([]Position, error)
	PlaceMarketBuy(ctx context.Context, req OrderRequest) error
}

// HTTPClient talks to the derivatives exchange's REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	log        zerolog.Logger
}

func NewHTTPClient(baseURL, apiKey, apiSecret string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		log:        log,
	}
}

// envelope is the exchange's uniform response wrapper. retCode zero is
// success; anything else surfaces as *APIError.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *HTTPClient) LastPrice(ctx context.Context, spotSymbol string) (int64, error) {
	q := url.Values{"symbol": {spotSymbol}}
	var result struct {
		Price string `json:"price"`
	}
	if err := c.get(ctx, "/spot/v3/public/quote/ticker/price", q, &result); err != nil {
		return 0, fmt.Errorf("last price %s: %w", spotSymbol, err)
	}
	return parseSpot(result.Price)
}

// Instruments lists the live option symbols for a base asset.
func (c *HTTPClient) Instruments(ctx context.Context, baseCoin string) ([]string, error) {
	q := url.Values{"baseCoin": {baseCoin}}
	var result struct {
		DataList []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"dataList"`
	}
	if err := c.get(ctx, "/option/usdc/openapi/public/v1/symbols", q, &result); err != nil {
		return nil, fmt.Errorf("instruments %s: %w", baseCoin, err)
	}

	symbols := make([]string, 0, len(result.DataList))
	for _, s := range result.DataList {
		if s.Status != "" && s.Status != "ONLINE" {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

// AskDepth reports how many resting asks a symbol has. Used by the
// symbol resolver's listing probe.
func (c *HTTPClient) AskDepth(ctx context.Context, sym string) (int, error) {
	book, err := c.OrderBook(ctx, sym)
	if err != nil {
		return 0, err
	}
	return len(book.Asks), nil
}

func (c *HTTPClient) OrderBook(ctx context.Context, sym string) (Book, error) {
	q := url.Values{"symbol": {sym}}
	var result []struct {
		Side  string `json:"side"`
		Price string `json:"price"`
		Size  string `json:"size"`
	}
	if err := c.get(ctx, "/option/usdc/openapi/public/v1/order-book", q, &result); err != nil {
		return Book{}, fmt.Errorf("order book %s: %w", sym, err)
	}

	book := Book{Symbol: sym}
	for _, entry := range result {
		if entry.Side != "Sell" {
			continue
		}
		price, err := parsePrice(entry.Price)
		if err != nil {
			return Book{}, fmt.Errorf("order book %s: %w", sym, err)
		}
		size, err := parseQty(entry.Size)
		if err != nil {
			return Book{}, fmt.Errorf("order book %s: %w", sym, err)
		}
		book.Asks = append(book.Asks, Level{Price: price, Size: size})
	}
	return book, nil
}

func (c *HTTPClient) Positions(ctx context.Context, baseCoin string) ([]Position, error) {
	body := map[string]string{"category": "OPTION", "baseCoin": baseCoin}
	var result struct {
		DataList []struct {
			Symbol string `json:"symbol"`
			Size   string `json:"size"`
		} `json:"dataList"`
	}
	if err := c.post(ctx, "/option/usdc/openapi/private/v1/query-position", body, &result); err != nil {
		return nil, fmt.Errorf("positions %s: %w", baseCoin, err)
	}

	positions := make([]Position, 0, len(result.DataList))
	for _, p := range result.DataList {
		size, err := parseQty(p.Size)
		if err != nil {
			return nil, fmt.Errorf("positions %s: %w", baseCoin, err)
		}
		positions = append(positions, Position{Symbol: p.Symbol, Size: size})
	}
	return positions, nil
}

func (c *HTTPClient) PlaceMarketBuy(ctx context.Context, req OrderRequest) error {
	body := map[string]string{
		"symbol":      req.Symbol,
		"orderType":   "Market",
		"side":        "Buy",
		"orderQty":    RoundQty(req.Quantity).String(),
		"timeInForce": "ImmediateOrCancel",
		"orderLinkId": req.OrderLinkID,
	}
	c.log.Info().
		Str("symbol", req.Symbol).
		Str("qty", body["orderQty"]).
		Str("order_link_id", req.OrderLinkID).
		Msg("market buying puts")

	var result json.RawMessage
	if err := c.post(ctx, "/option/usdc/openapi/private/v1/place-order", body, &result); err != nil {
		return fmt.Errorf("place order %s: %w", req.Symbol, err)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body map[string]string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, payload, out)
}

func (c *HTTPClient) do(req *http.Request, payload []byte, out interface{}) error {
	if c.apiKey != "" {
		c.sign(req, payload)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// sign applies the exchange's HMAC-SHA256 request signature headers.
func (c *HTTPClient) sign(req *http.Request, payload []byte) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(c.apiKey))
	mac.Write(payload)

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}
