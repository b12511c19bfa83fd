package order

import (
	"sort"
	"sync"
	"time"
)

// Entry is the tracker's last-known view of one order.
type Entry struct {
	ClientOrderID  string
	OrderID        string
	Ticker         string
	Status         Status
	FillCount      int
	RemainingCount int
	UpdatedAt      time.Time

	// inferred marks a Rejected status set locally from a failed call
	// rather than read from the exchange.
	inferred bool
}

// Tracker mirrors order state keyed by client order id. The exchange is
// authoritative once an order is acknowledged: the tracker only applies
// observations that are legal lifecycle steps, so a stale read can never
// move an order backwards or out of a terminal state. A locally inferred
// rejection is the exception: any exchange report carrying an order id
// replaces it.
type Tracker struct {
	mu       sync.RWMutex
	byClient map[string]*Entry
	byOrder  map[string]string // order id -> tracker key
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byClient: make(map[string]*Entry),
		byOrder:  make(map[string]string),
		now:      time.Now,
	}
}

// Begin records a locally built order as Pending. An order that is already
// tracked is left untouched, so resubmitting the same id is harmless.
func (t *Tracker) Begin(o Order) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byClient[o.ClientOrderID]; ok {
		return
	}
	t.byClient[o.ClientOrderID] = &Entry{
		ClientOrderID:  o.ClientOrderID,
		Ticker:         o.Ticker,
		Status:         Pending,
		RemainingCount: o.Count,
		UpdatedAt:      t.now(),
	}
}

// Observe applies an acknowledgement or status read. It returns the
// resulting entry and whether the observation was applied.
func (t *Tracker) Observe(a Ack) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := a.ClientOrderID
	if key == "" {
		key = t.byOrder[a.OrderID]
	}
	if key == "" {
		key = a.OrderID
	}
	if key == "" {
		return Entry{}, false
	}

	e, ok := t.byClient[key]
	if !ok {
		if a.Status == StatusUnknown {
			return Entry{}, false
		}
		e = &Entry{ClientOrderID: a.ClientOrderID}
		t.byClient[key] = e
	} else if !CanTransition(e.Status, a.Status) && !(e.inferred && a.OrderID != "" && a.Status != StatusUnknown) {
		return *e, false
	}
	e.inferred = false

	if a.OrderID != "" {
		e.OrderID = a.OrderID
		t.byOrder[a.OrderID] = key
	}
	if a.Ticker != "" {
		e.Ticker = a.Ticker
	}
	e.Status = a.Status
	e.FillCount = a.FillCount
	e.RemainingCount = a.RemainingCount
	e.UpdatedAt = t.now()
	return *e, true
}

// Reject marks a still-pending order as Rejected. The rejection is
// provisional until the exchange reports on the order.
func (t *Tracker) Reject(clientOrderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byClient[clientOrderID]
	if !ok || e.Status != Pending {
		return false
	}
	e.Status = Rejected
	e.RemainingCount = 0
	e.UpdatedAt = t.now()
	e.inferred = true
	return true
}

// Lookup returns the entry for a client order id.
func (t *Tracker) Lookup(clientOrderID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byClient[clientOrderID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LookupOrder returns the entry for an exchange order id.
func (t *Tracker) LookupOrder(orderID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key, ok := t.byOrder[orderID]
	if !ok {
		return Entry{}, false
	}
	e, ok := t.byClient[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns all entries ordered by client order id.
func (t *Tracker) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.byClient))
	for _, e := range t.byClient {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

// Open returns the exchange ids of acknowledged orders that are not yet
// terminal, ordered by client order id.
func (t *Tracker) Open() []string {
	var ids []string
	for _, e := range t.Snapshot() {
		if e.OrderID != "" && !e.Status.Terminal() {
			ids = append(ids, e.OrderID)
		}
	}
	return ids
}
