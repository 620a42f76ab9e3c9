package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"StraddleHedger/internal/event"
)

// GatewayClient reads vault state through the chain gateway's REST API.
// The gateway fronts the contract node and serves decoded, JSON-shaped
// views; uint256 fields arrive as decimal strings.
type GatewayClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

var _ Vault = (*GatewayClient)(nil)

func NewGatewayClient(baseURL string, timeout time.Duration, log zerolog.Logger) *GatewayClient {
	return &GatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        log,
	}
}

func (c *GatewayClient) CurrentEpoch(ctx context.Context) (uint64, error) {
	var out struct {
		Epoch uint64 `json:"epoch"`
	}
	if err := c.get(ctx, "/vault/epoch/current", &out); err != nil {
		return 0, fmt.Errorf("current epoch: %w", err)
	}
	return out.Epoch, nil
}

func (c *GatewayClient) EpochData(ctx context.Context, id uint64) (Epoch, error) {
	var out struct {
		Expiry              int64  `json:"expiry"`
		USDDeposits         string `json:"usdDeposits"`
		UnderlyingPurchased string `json:"underlyingPurchased"`
	}
	if err := c.get(ctx, fmt.Sprintf("/vault/epoch/%d", id), &out); err != nil {
		return Epoch{}, fmt.Errorf("epoch %d: %w", id, err)
	}

	deposits, err := parseBigInt(out.USDDeposits)
	if err != nil {
		return Epoch{}, fmt.Errorf("epoch %d deposits: %w", id, err)
	}
	underlying, err := parseBigInt(out.UnderlyingPurchased)
	if err != nil {
		return Epoch{}, fmt.Errorf("epoch %d underlying: %w", id, err)
	}
	return Epoch{
		ID:                  id,
		Expiry:              time.Unix(out.Expiry, 0).UTC(),
		USDDeposits:         deposits,
		UnderlyingPurchased: underlying,
	}, nil
}

func (c *GatewayClient) WritePositionsOfOwner(ctx context.Context, owner string) ([]uint64, error) {
	var out struct {
		TokenIDs []uint64 `json:"tokenIds"`
	}
	if err := c.get(ctx, "/vault/owner/"+owner+"/write-positions", &out); err != nil {
		return nil, fmt.Errorf("write positions of %s: %w", owner, err)
	}
	return out.TokenIDs, nil
}

func (c *GatewayClient) WritePosition(ctx context.Context, id uint64) (WritePosition, error) {
	var out struct {
		Epoch      uint64 `json:"epoch"`
		USDDeposit string `json:"usdDeposit"`
	}
	if err := c.get(ctx, fmt.Sprintf("/vault/write-position/%d", id), &out); err != nil {
		return WritePosition{}, fmt.Errorf("write position %d: %w", id, err)
	}

	deposit, err := parseBigInt(out.USDDeposit)
	if err != nil {
		return WritePosition{}, fmt.Errorf("write position %d deposit: %w", id, err)
	}
	return WritePosition{Epoch: out.Epoch, USDDeposit: deposit}, nil
}

func (c *GatewayClient) PurchaseHistory(ctx context.Context, epoch uint64) ([]*event.Purchase, error) {
	var out struct {
		Purchases []purchaseRecord `json:"purchases"`
	}
	if err := c.get(ctx, fmt.Sprintf("/vault/epoch/%d/purchases", epoch), &out); err != nil {
		return nil, fmt.Errorf("purchase history epoch %d: %w", epoch, err)
	}

	purchases := make([]*event.Purchase, 0, len(out.Purchases))
	for _, rec := range out.Purchases {
		p, err := rec.toEvent(epoch)
		if err != nil {
			return nil, fmt.Errorf("purchase history epoch %d: %w", epoch, err)
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

// purchaseRecord is the gateway's joined view of a Purchase event and
// the straddle position it minted.
type purchaseRecord struct {
	StraddleID          uint64 `json:"straddleId"`
	User                string `json:"user"`
	Cost                string `json:"cost"`
	APStrike            string `json:"apStrike"`
	UnderlyingPurchased string `json:"underlyingPurchased"`
	BlockNumber         int64  `json:"blockNumber"`
	Timestamp           int64  `json:"timestamp"`
}

func (r purchaseRecord) toEvent(epoch uint64) (*event.Purchase, error) {
	cost, err := parseBigInt(r.Cost)
	if err != nil {
		return nil, fmt.Errorf("straddle %d cost: %w", r.StraddleID, err)
	}
	strike, err := parseBigInt(r.APStrike)
	if err != nil {
		return nil, fmt.Errorf("straddle %d strike: %w", r.StraddleID, err)
	}
	if !strike.IsInt64() {
		return nil, fmt.Errorf("straddle %d strike %s overflows int64", r.StraddleID, r.APStrike)
	}
	underlying, err := parseBigInt(r.UnderlyingPurchased)
	if err != nil {
		return nil, fmt.Errorf("straddle %d underlying: %w", r.StraddleID, err)
	}
	return &event.Purchase{
		StraddleID:          r.StraddleID,
		User:                r.User,
		Cost:                cost,
		Strike:              strike.Int64(),
		UnderlyingPurchased: underlying,
		Epoch:               epoch,
		BlockNumber:         r.BlockNumber,
		Timestamp:           time.Unix(r.Timestamp, 0).UTC(),
	}, nil
}

func (c *GatewayClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
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
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse integer %q", s)
	}
	return v, nil
}
