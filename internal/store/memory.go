package store

import (
	"fmt"
	"sort"
	"sync"

	"mmexec/internal/core"
	apperrors "mmexec/pkg/errors"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps all order state in process memory. Used by tests
// and non-durable shadow runs.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*core.Order
	// insertion order, for deterministic listings
	orderIDs []string
	idem     map[string]idemEntry
	nextID   int64
	clock    core.Clock
}

type idemEntry struct {
	result      cachedResult
	expiresAtMs int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clock core.Clock) *MemoryStore {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	return &MemoryStore{
		orders: make(map[string]*core.Order),
		idem:   make(map[string]idemEntry),
		nextID: 1,
		clock:  clock,
	}
}

// checkIdem returns the cached result for a key. Caller holds the lock.
func (s *MemoryStore) checkIdem(idemKey string) (MutationResult, bool) {
	e, ok := s.idem[idemKey]
	if !ok {
		return MutationResult{}, false
	}
	if s.clock.NowMs() >= e.expiresAtMs {
		delete(s.idem, idemKey)
		return MutationResult{}, false
	}
	r := MutationResult{
		Success:      e.result.Success,
		WasDuplicate: true,
		Message:      e.result.Message,
		Count:        e.result.Count,
	}
	if e.result.ClientOrderID != "" {
		if o, ok := s.orders[e.result.ClientOrderID]; ok {
			r.Order = o.Clone()
		}
	}
	return r, true
}

func (s *MemoryStore) cacheIdem(idemKey string, r MutationResult) {
	s.idem[idemKey] = idemEntry{
		result:      toCached(r),
		expiresAtMs: s.clock.NowMs() + IdemCacheTTL.Milliseconds(),
	}
}

func (s *MemoryStore) PlaceOrder(symbol string, side core.Side, qty, price decimal.Decimal, idemKey string, tsMs int64) MutationResult {
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

	cid := fmt.Sprintf(ClientOrderIDFormat, s.nextID)
	s.nextID++

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
	s.orders[cid] = order
	s.orderIDs = append(s.orderIDs, cid)

	r := MutationResult{Success: true, Order: order.Clone()}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *MemoryStore) UpdateOrderState(clientOrderID string, target core.OrderState, idemKey string, tsMs int64, exchangeOrderID, message string) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	order, ok := s.orders[clientOrderID]
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

	r := MutationResult{Success: true, Order: order.Clone()}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *MemoryStore) UpdateFill(clientOrderID string, fillQty, fillPrice decimal.Decimal, idemKey string, tsMs int64) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	order, ok := s.orders[clientOrderID]
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

	r := MutationResult{Success: true, Order: order.Clone()}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *MemoryStore) CancelAllOpen(idemKey string, tsMs int64) MutationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, dup := s.checkIdem(idemKey); dup {
		return r
	}

	count := 0
	for _, cid := range s.orderIDs {
		order := s.orders[cid]
		if !order.State.IsOpen() {
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
		count++
	}

	r := MutationResult{Success: true, Count: count}
	s.cacheIdem(idemKey, r)
	return r
}

func (s *MemoryStore) GetOrder(clientOrderID string) (*core.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clientOrderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *MemoryStore) GetOpenOrders() []*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Order
	for _, cid := range s.orderIDs {
		if o := s.orders[cid]; o.State.IsOpen() {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (s *MemoryStore) GetOrdersBySymbol(symbol string) []*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Order
	for _, cid := range s.orderIDs {
		if o := s.orders[cid]; o.Symbol == symbol {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (s *MemoryStore) CountByState() map[core.OrderState]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[core.OrderState]int)
	for _, o := range s.orders {
		counts[o.State]++
	}
	return counts
}

// PeekNextID returns the id the next PlaceOrder will mint
func (s *MemoryStore) PeekNextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf(ClientOrderIDFormat, s.nextID)
}

// AllOrders returns every order keyed by client id, for snapshots
func (s *MemoryStore) AllOrders() map[string]*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*core.Order, len(s.orders))
	for cid, o := range s.orders {
		out[cid] = o.Clone()
	}
	return out
}

// sortedIDs is shared by listings that must be deterministic
func sortedIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
