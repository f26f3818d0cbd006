package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mmexec/internal/core"
	"mmexec/internal/state"
	apperrors "mmexec/pkg/errors"
	"mmexec/pkg/jsonutil"

	"github.com/shopspring/decimal"
)

// KV key layout
const (
	keyOrderPrefix    = "order:"
	keyOpenSet        = "orders:open"
	keyBySymbolPrefix = "orders:by_symbol:"
	keyIdemPrefix     = "idem:"
	keyNextID         = "orders:next_id"
)

// RecoverySummary reports what a journal replay reconstructed
type RecoverySummary struct {
	TotalOrdersRecovered int    `json:"total_orders_recovered"`
	OpenOrdersCount      int    `json:"open_orders_count"`
	NextClientOrderID    string `json:"next_client_order_id"`
}

// DurableStore persists orders through the KV layer and appends every
// successful mutation to the on-disk journal before acknowledging it.
type DurableStore struct {
	mu      sync.Mutex
	kv      state.KV
	journal *state.JournalWriter
	clock   core.Clock
	logger  core.ILogger
}

// NewDurableStore opens the journal under snapshotDir and wires the
// store to kv. Call RecoverFromSnapshot before serving traffic.
func NewDurableStore(kv state.KV, snapshotDir string, clock core.Clock, logger core.ILogger) (*DurableStore, error) {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	journal, err := state.NewJournalWriter(snapshotDir)
	if err != nil {
		return nil, err
	}
	return &DurableStore{
		kv:      kv,
		journal: journal,
		clock:   clock,
		logger:  logger.WithField("component", "durable_store"),
	}, nil
}

// Close releases the journal file
func (s *DurableStore) Close() error {
	return s.journal.Close()
}

func (s *DurableStore) loadOrder(cid string) (*core.Order, bool) {
	raw, ok := s.kv.Get(keyOrderPrefix + cid)
	if !ok {
		return nil, false
	}
	var o core.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		s.logger.Error("Corrupt order record", "client_order_id", cid, "error", err)
		return nil, false
	}
	return &o, true
}

// saveOrder persists the record and keeps both indexes consistent with
// the order's state. Caller holds the lock.
func (s *DurableStore) saveOrder(o *core.Order) error {
	data, err := jsonutil.MarshalCanonical(o)
	if err != nil {
		return fmt.Errorf("failed to serialize order %s: %w", o.ClientOrderID, err)
	}
	s.kv.Set(keyOrderPrefix+o.ClientOrderID, string(data), 0)
	s.kv.SAdd(keyBySymbolPrefix+o.Symbol, o.ClientOrderID)
	if o.State.IsOpen() {
		s.kv.SAdd(keyOpenSet, o.ClientOrderID)
	} else {
		s.kv.SRem(keyOpenSet, o.ClientOrderID)
	}
	return nil
}

func (s *DurableStore) checkIdem(idemKey string) (MutationResult, bool) {
	raw, ok := s.kv.Get(keyIdemPrefix + idemKey)
	if !ok {
		return MutationResult{}, false
	}
	var c cachedResult
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return MutationResult{}, false
	}
	r := MutationResult{
		Success:      c.Success,
		WasDuplicate: true,
		Message:      c.Message,
		Count:        c.Count,
	}
	if c.ClientOrderID != "" {
		if o, ok := s.loadOrder(c.ClientOrderID); ok {
			r.Order = o
		}
	}
	return r, true
}

func (s *DurableStore) cacheIdem(idemKey string, r MutationResult) {
	data, err := json.Marshal(toCached(r))
	if err != nil {
		return
	}
	s.kv.Set(keyIdemPrefix+idemKey, string(data), IdemCacheTTL)
}

func (s *DurableStore) nextClientOrderID() string {
	n := int64(1)
	if raw, ok := s.kv.Get(keyNextID); ok {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			n = parsed
		}
	}
	s.kv.Set(keyNextID, strconv.FormatInt(n+1, 10), 0)
	return fmt.Sprintf(ClientOrderIDFormat, n)
}

func (s *DurableStore) PlaceOrder(symbol string, side core.Side, qty, price decimal.Decimal, idemKey string, tsMs int64) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	if symbol == "" || qty.Sign() <= 0 || price.Sign() <= 0 {
		r := MutationResult{Success: false, Message: apperrors.ErrValidation.Error()}
		s.cacheIdem(idemKey, r)
		return r
	}

	cid := s.nextClientOrderID()
	order := &core.Order{
		ClientOrderID: cid,
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		Price:         price,
		State:         core.OrderPending,
		CreatedAtMs:   tsMs,
		UpdatedAtMs:   tsMs,
		Events: []core.OrderEvent{
			{Type: core.EventCreated, TimestampMs: tsMs, Qty: qty, Price: price},
		},
	}

	if err := s.commit(order); err != nil {
		return MutationResult{Success: false, Message: err.Error()}
	}

	r := MutationResult{Success: true, Order: order.Clone()}
	s.cacheIdem(idemKey, r)
	return r
}

// commit journals the mutated order, then persists it. The journal write
// happens first so an acked mutation always survives a crash.
func (s *DurableStore) commit(order *core.Order) error {
	if err := s.journal.Append(order); err != nil {
		return err
	}
	return s.saveOrder(order)
}

func (s *DurableStore) UpdateOrderState(clientOrderID string, target core.OrderState, idemKey string, tsMs int64, exchangeOrderID, message string) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	order, ok := s.loadOrder(clientOrderID)
	if !ok {
		r := MutationResult{Success: false, Message: apperrors.ErrStateNotFound.Error()}
		s.cacheIdem(idemKey, r)
		return r
	}

	event, ok := core.EventForState(target)
	if !ok {
		r := MutationResult{Success: false, Message: apperrors.ErrInvalidTransition.Error()}
		s.cacheIdem(idemKey, r)
		return r
	}
	next, ok := core.NextState(order.State, event)
	if !ok {
		r := MutationResult{
			Success: false,
			Message: fmt.Sprintf("%s: %s + %s", apperrors.ErrInvalidTransition.Error(), order.State, event),
		}
		s.cacheIdem(idemKey, r)
		return r
	}

	order.State = next
	order.UpdatedAtMs = tsMs
	if exchangeOrderID != "" {
		order.ExchangeOrderID = exchangeOrderID
	}
	if message != "" {
		order.Message = message
	}
	order.Events = append(order.Events, core.OrderEvent{
		Type:        event,
		TimestampMs: tsMs,
		Reason:      message,
	})

	if err := s.commit(order); err != nil {
		return MutationResult{Success: false, Message: err.Error()}
	}

	r := MutationResult{Success: true, Order: order.Clone()}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *DurableStore) UpdateFill(clientOrderID string, fillQty, fillPrice decimal.Decimal, idemKey string, tsMs int64) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	order, ok := s.loadOrder(clientOrderID)
	if !ok {
		r := MutationResult{Success: false, Message: apperrors.ErrStateNotFound.Error()}
		s.cacheIdem(idemKey, r)
		return r
	}

	if err := applyFill(order, fillQty, fillPrice, tsMs); err != nil {
		r := MutationResult{Success: false, Message: err.Error()}
		s.cacheIdem(idemKey, r)
		return r
	}

	if err := s.commit(order); err != nil {
		return MutationResult{Success: false, Message: err.Error()}
	}

	r := MutationResult{Success: true, Order: order.Clone()}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *DurableStore) CancelAllOpen(idemKey string, tsMs int64) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	count := 0
	for _, cid := range sortedIDs(s.kv.SMembers(keyOpenSet)) {
		order, ok := s.loadOrder(cid)
		if !ok {
			continue
		}
		next, ok := core.NextState(order.State, core.EventCancelAck)
		if !ok {
			continue
		}
		order.State = next
		order.UpdatedAtMs = tsMs
		order.Events = append(order.Events, core.OrderEvent{
			Type:        core.EventCancelAck,
			TimestampMs: tsMs,
		})
		if err := s.commit(order); err != nil {
			return MutationResult{Success: false, Message: err.Error(), Count: count}
		}
		count++
	}

	r := MutationResult{Success: true, Count: count}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *DurableStore) GetOrder(clientOrderID string) (*core.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrder(clientOrderID)
}

func (s *DurableStore) GetOpenOrders() []*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Order
	for _, cid := range sortedIDs(s.kv.SMembers(keyOpenSet)) {
		if o, ok := s.loadOrder(cid); ok {
			out = append(out, o)
		}
	}
	return out
}

func (s *DurableStore) GetOrdersBySymbol(symbol string) []*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Order
	for _, cid := range sortedIDs(s.kv.SMembers(keyBySymbolPrefix + symbol)) {
		if o, ok := s.loadOrder(cid); ok {
			out = append(out, o)
		}
	}
	return out
}

func (s *DurableStore) CountByState() map[core.OrderState]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[core.OrderState]int)
	cursor := 0
	for {
		next, keys := s.kv.Scan(cursor, keyOrderPrefix+"*", 256)
		for _, k := range keys {
			if o, ok := s.loadOrder(k[len(keyOrderPrefix):]); ok {
				counts[o.State]++
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return counts
}

// PeekNextID returns the id the next PlaceOrder will mint
func (s *DurableStore) PeekNextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(1)
	if raw, ok := s.kv.Get(keyNextID); ok {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			n = parsed
		}
	}
	return fmt.Sprintf(ClientOrderIDFormat, n)
}

// AllOrders returns every order keyed by client id, for snapshots
func (s *DurableStore) AllOrders() map[string]*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*core.Order)
	cursor := 0
	for {
		next, keys := s.kv.Scan(cursor, keyOrderPrefix+"*", 256)
		for _, k := range keys {
			cid := k[len(keyOrderPrefix):]
			if o, ok := s.loadOrder(cid); ok {
				out[cid] = o
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out
}

// RecoverFromSnapshot replays the journal into the KV store, rebuilds
// both indexes, and advances the id counter past the highest observed
// id. Each journal line is one full order record; later lines supersede
// earlier ones for the same id.
func (s *DurableStore) RecoverFromSnapshot(snapshotDir string) (*RecoverySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxID := int64(0)
	lines, err := state.ReplayJournal(snapshotDir, func(line []byte) error {
		var o core.Order
		if err := json.Unmarshal(line, &o); err != nil {
			return err
		}
		if err := s.saveOrder(&o); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(strings.TrimPrefix(o.ClientOrderID, "CLI"), 10, 64); err == nil && n > maxID {
			maxID = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Never move the counter backwards
	next := maxID + 1
	if raw, ok := s.kv.Get(keyNextID); ok {
		if cur, err := strconv.ParseInt(raw, 10, 64); err == nil && cur > next {
			next = cur
		}
	}
	s.kv.Set(keyNextID, strconv.FormatInt(next, 10), 0)

	summary := &RecoverySummary{
		TotalOrdersRecovered: lines,
		OpenOrdersCount:      s.kv.SCard(keyOpenSet),
		NextClientOrderID:    fmt.Sprintf(ClientOrderIDFormat, next),
	}
	s.logger.Info("Snapshot recovery complete",
		"journal_lines", summary.TotalOrdersRecovered,
		"open_orders", summary.OpenOrdersCount,
		"next_client_order_id", summary.NextClientOrderID)
	return summary, nil
}
