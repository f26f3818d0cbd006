package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"mmexec/internal/core"
	"mmexec/pkg/jsonutil"

	"github.com/shopspring/decimal"
)

// DryRun builds and signs real order payloads but never opens a
// connection. Every call is acked locally, so the full placement path
// can be exercised against production-shaped requests.
type DryRun struct {
	mu        sync.Mutex
	apiKey    string
	apiSecret string
	clock     core.Clock
	logger    core.ILogger
	nextID    int64
	open      map[string]*core.ExchangeOpenOrder
}

// NewDryRun creates a dry-run adapter. The secret is used for HMAC
// signing only; the logger masks it.
func NewDryRun(apiKey, apiSecret string, clock core.Clock, logger core.ILogger) *DryRun {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	return &DryRun{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		clock:     clock,
		logger:    logger.WithField("component", "dryrun_exchange").WithField("api_key", apiKey),
		nextID:    1,
		open:      make(map[string]*core.ExchangeOpenOrder),
	}
}

func (d *DryRun) GetName() string { return "dryrun" }

func (d *DryRun) CheckHealth(ctx context.Context) error { return nil }

// sign computes the HMAC-SHA256 signature over the canonical payload
func (d *DryRun) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(d.apiSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *DryRun) PlaceLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.PlaceOrderResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := jsonutil.MarshalCanonical(map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty.String(),
		"price":           req.Price.String(),
		"post_only":       req.PostOnly,
		"timestamp":       d.clock.NowMs(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}
	signature := d.sign(payload)

	exchangeID := fmt.Sprintf("DRY-%06d", d.nextID)
	d.nextID++

	d.open[req.ClientOrderID] = &core.ExchangeOpenOrder{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: exchangeID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Qty:             req.Qty,
		Price:           req.Price,
	}

	d.logger.Info("Dry-run order signed, not sent",
		"client_order_id", req.ClientOrderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"signature", signature[:16])

	return &core.PlaceOrderResponse{
		Status:          core.PlaceOrderAccepted,
		ExchangeOrderID: exchangeID,
	}, nil
}

func (d *DryRun) CancelOrder(ctx context.Context, clientOrderID, symbol string) (*core.PlaceOrderResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	order, ok := d.open[clientOrderID]
	if !ok {
		return &core.PlaceOrderResponse{
			Status:  core.PlaceOrderRejected,
			Message: "unknown order",
		}, nil
	}
	delete(d.open, clientOrderID)
	return &core.PlaceOrderResponse{
		Status:          core.PlaceOrderAccepted,
		ExchangeOrderID: order.ExchangeOrderID,
	}, nil
}

func (d *DryRun) GetOpenOrders(ctx context.Context, symbol string) ([]*core.ExchangeOpenOrder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*core.ExchangeOpenOrder
	for _, o := range d.open {
		if symbol == "" || o.Symbol == symbol {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (d *DryRun) GetPositions(ctx context.Context) (map[string]decimal.Decimal, error) {
	// Nothing executes in dry-run, so there is never a position
	return map[string]decimal.Decimal{}, nil
}

func (d *DryRun) NextFill() (*core.FillEvent, bool) {
	return nil, false
}

func (d *DryRun) GetSymbolFilters(ctx context.Context, symbol string) (*core.SymbolFilters, error) {
	filters := core.DefaultFilters(symbol)
	return &filters, nil
}

func (d *DryRun) GetCurrentTimeMs() int64 {
	return d.clock.NowMs()
}
