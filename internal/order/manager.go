package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kalshi-trade/internal/api"
	"github.com/rickgao/kalshi-trade/internal/errs"
	"github.com/rickgao/kalshi-trade/internal/metrics"
)

// DefaultReconcileConcurrency bounds concurrent status reads in Reconcile.
const DefaultReconcileConcurrency = 8

// codeDuplicate is the rejection code for a repeated client order id
// inside one batch.
const codeDuplicate = "duplicate_client_order_id"

// notCancelableCodes are exchange error codes meaning the order is already
// terminal or gone.
var notCancelableCodes = map[string]bool{
	"not_found":                true,
	"order_not_found":          true,
	"order_already_canceled":   true,
	"order_already_cancelled":  true,
	"order_already_executed":   true,
	"order_already_filled":     true,
	"order_not_cancelable":     true,
	"order_not_active":         true,
	"order_already_terminated": true,
}

// orderExistsCodes are rejection codes meaning an order with this client id
// is already on the exchange, typically from an earlier attempt whose
// response was lost.
var orderExistsCodes = map[string]bool{
	"order_already_exists":      true,
	"duplicate_client_order_id": true,
	"duplicate_order":           true,
}

// Doer executes one signed REST call. *api.Client implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
}

// Manager submits and cancels orders. It is safe for concurrent use;
// operations on different client order ids need no coordination.
type Manager struct {
	client  Doer
	tracker *Tracker
	logger  *slog.Logger
	metrics *metrics.Recorder

	reconcileLimit int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithTracker shares an existing tracker.
func WithTracker(t *Tracker) Option {
	return func(m *Manager) {
		m.tracker = t
	}
}

// WithReconcileConcurrency bounds concurrent status reads in Reconcile.
func WithReconcileConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.reconcileLimit = n
		}
	}
}

// NewManager creates an order manager over client.
func NewManager(client Doer, opts ...Option) *Manager {
	m := &Manager{
		client:         client,
		tracker:        NewTracker(),
		logger:         slog.Default(),
		reconcileLimit: DefaultReconcileConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "order")
	return m
}

// Tracker returns the manager's order mirror.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// Submit validates and places one order. On a transient, rate-limited or
// cancelled outcome the order may still exist remotely; resubmitting the
// same Order (same client order id) is safe because the exchange
// deduplicates on it.
func (m *Manager) Submit(ctx context.Context, o Order) (*Ack, error) {
	if err := o.Validate(); err != nil {
		m.metrics.Order(ctx, "submit", "invalid")
		return nil, err
	}

	m.tracker.Begin(o)

	var resp api.SingleOrderResponse
	if err := m.client.Do(ctx, http.MethodPost, "/portfolio/orders", nil, toCreateRequest(o), &resp); err != nil {
		m.recordFailure(ctx, "submit", o.ClientOrderID, err)
		return nil, fmt.Errorf("submit order %s: %w", o.ClientOrderID, err)
	}

	ack := ackFromAPI(&resp.Order)
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = o.ClientOrderID
	}
	m.tracker.Observe(ack)
	m.metrics.Order(ctx, "submit", "accepted")
	m.logger.Info("order submitted",
		"client_order_id", ack.ClientOrderID,
		"order_id", ack.OrderID,
		"ticker", o.Ticker,
		"status", ack.Status.String(),
	)
	return &ack, nil
}

// recordFailure rejects the tracked order only when the exchange
// definitively refused it. A conflict means an earlier attempt may have
// landed, so that order stays Pending for reconciliation like any other
// failure.
func (m *Manager) recordFailure(ctx context.Context, op, clientOrderID string, err error) {
	kind := errs.KindOf(err)
	switch {
	case mayExist(err):
		m.metrics.Order(ctx, op, "duplicate")
	case kind == errs.KindInvalidRequest:
		m.tracker.Reject(clientOrderID)
		m.metrics.Order(ctx, op, "rejected")
	default:
		m.metrics.Order(ctx, op, "unknown")
	}
	m.logger.Warn("order call failed",
		"op", op,
		"client_order_id", clientOrderID,
		"kind", string(kind),
		"error", err,
	)
}

// mayExist reports whether a failed placement says the order is already on
// the exchange.
func mayExist(err error) bool {
	var e *errs.E
	if !errors.As(err, &e) {
		return false
	}
	return e.HTTP == http.StatusConflict || orderExistsCodes[e.Code]
}

// SubmitBatch places orders in as few calls as the exchange allows. The
// batch is not atomic: the result holds one outcome per input order, in
// input order, and an accepted element stays accepted whatever happens to
// its siblings. The error is non-nil only for an empty batch.
func (m *Manager) SubmitBatch(ctx context.Context, orders []Order) (*BatchResult, error) {
	if len(orders) == 0 {
		return nil, errs.InvalidRequest("batch is empty")
	}

	result := &BatchResult{Results: make([]ElementResult, len(orders))}
	seen := make(map[string]int, len(orders))
	var send []int

	for i := range orders {
		o := orders[i]
		result.Results[i].ClientOrderID = o.ClientOrderID

		if first, dup := seen[o.ClientOrderID]; dup && o.ClientOrderID != "" {
			result.Results[i].Outcome = OutcomeRejected
			result.Results[i].Err = errs.New(errs.KindInvalidRequest,
				errs.WithCode(codeDuplicate),
				errs.WithMessage(fmt.Sprintf("client_order_id repeats batch element %d", first)),
			)
			m.metrics.Order(ctx, "batch", "rejected")
			continue
		}
		seen[o.ClientOrderID] = i

		if err := o.Validate(); err != nil {
			result.Results[i].Outcome = OutcomeRejected
			result.Results[i].Err = err
			m.metrics.Order(ctx, "batch", "invalid")
			continue
		}
		send = append(send, i)
	}

	for start := 0; start < len(send); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(send) {
			end = len(send)
		}
		m.submitChunk(ctx, orders, send[start:end], result)
	}

	m.logger.Info("batch submitted",
		"orders", len(orders),
		"accepted", len(result.Accepted()),
		"rejected", len(result.Rejected()),
		"unknown", len(result.Unknown()),
	)
	return result, nil
}

// submitChunk sends one batched call for the orders at idx and fills in
// their results.
func (m *Manager) submitChunk(ctx context.Context, orders []Order, idx []int, result *BatchResult) {
	req := batchRequest{Orders: make([]createRequest, len(idx))}
	for j, i := range idx {
		m.tracker.Begin(orders[i])
		req.Orders[j] = toCreateRequest(orders[i])
	}

	var resp batchResponse
	if err := m.client.Do(ctx, http.MethodPost, "/portfolio/orders/batched", nil, req, &resp); err != nil {
		m.logger.Warn("batch call failed", "orders", len(idx), "error", err)
		for _, i := range idx {
			result.Results[i].Outcome = OutcomeUnknown
			result.Results[i].Err = fmt.Errorf("batch call: %w", err)
			m.metrics.Order(ctx, "batch", "unknown")
		}
		return
	}

	// Elements come back in request order; a client order id on the element
	// takes precedence when present.
	byClient := make(map[string]*batchElement, len(resp.Orders))
	for k := range resp.Orders {
		if id := elementClientID(&resp.Orders[k]); id != "" {
			byClient[id] = &resp.Orders[k]
		}
	}

	for j, i := range idx {
		id := orders[i].ClientOrderID
		el, ok := byClient[id]
		if !ok && j < len(resp.Orders) && elementClientID(&resp.Orders[j]) == "" {
			el, ok = &resp.Orders[j], true
		}

		res := &result.Results[i]
		switch {
		case !ok:
			res.Outcome = OutcomeUnknown
			res.Err = errs.New(errs.KindDecode, errs.WithMessage("batch response has no element for "+id))
			m.metrics.Order(ctx, "batch", "unknown")
		case el.Error != nil:
			res.Outcome = OutcomeRejected
			res.Err = errs.New(errs.KindInvalidRequest,
				errs.WithCode(el.Error.Code),
				errs.WithMessage(joinMessage(el.Error)),
			)
			if mayExist(res.Err) {
				m.metrics.Order(ctx, "batch", "duplicate")
			} else {
				m.tracker.Reject(id)
				m.metrics.Order(ctx, "batch", "rejected")
			}
		case el.Order != nil:
			ack := ackFromAPI(el.Order)
			if ack.ClientOrderID == "" {
				ack.ClientOrderID = id
			}
			res.Outcome = OutcomeAccepted
			res.Ack = &ack
			m.tracker.Observe(ack)
			m.metrics.Order(ctx, "batch", "accepted")
		default:
			res.Outcome = OutcomeUnknown
			res.Err = errs.New(errs.KindDecode, errs.WithMessage("empty batch element for "+id))
			m.metrics.Order(ctx, "batch", "unknown")
		}
	}
}

func elementClientID(el *batchElement) string {
	if el.ClientOrderID != "" {
		return el.ClientOrderID
	}
	if el.Order != nil {
		return el.Order.ClientOrderID
	}
	return ""
}

func joinMessage(e *wireError) string {
	msg := e.Message
	if e.Details != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Details
	}
	return msg
}

// Cancel cancels a resting order. Cancelling an order that is already
// terminal returns KindNotCancelable, which callers may treat as a no-op.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errs.InvalidRequest("order id is required")
	}

	if e, ok := m.tracker.LookupOrder(orderID); ok && e.Status.Terminal() {
		m.metrics.Order(ctx, "cancel", "not_cancelable")
		return errs.New(errs.KindNotCancelable,
			errs.WithMessage(fmt.Sprintf("order %s is already %s", orderID, e.Status)),
		)
	}

	var resp cancelResponse
	err := m.client.Do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, &resp)
	if err != nil {
		if nc := asNotCancelable(err); nc != nil {
			m.metrics.Order(ctx, "cancel", "not_cancelable")
			return nc
		}
		m.metrics.Order(ctx, "cancel", "error")
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	ack := ackFromAPI(&resp.Order)
	if ack.OrderID == "" {
		ack.OrderID = orderID
	}
	if ack.Status == StatusUnknown || ack.Status == Resting || ack.Status == PartiallyFilled {
		ack.Status = Cancelled
	}
	m.tracker.Observe(ack)
	m.metrics.Order(ctx, "cancel", "accepted")
	m.logger.Info("order cancelled", "order_id", orderID, "reduced_by", resp.ReducedBy)
	return nil
}

// asNotCancelable converts an exchange refusal that means "already
// terminal or gone" into KindNotCancelable. Other errors yield nil.
func asNotCancelable(err error) error {
	var e *errs.E
	if !errors.As(err, &e) || e.Kind != errs.KindInvalidRequest {
		return nil
	}
	if e.HTTP != http.StatusNotFound && e.HTTP != http.StatusConflict && !notCancelableCodes[e.Code] {
		return nil
	}
	return errs.New(errs.KindNotCancelable,
		errs.WithHTTP(e.HTTP),
		errs.WithCode(e.Code),
		errs.WithMessage(e.Message),
		errs.WithCause(err),
	)
}

// Amend changes the price and count of a resting order. orig identifies
// the order being amended (ticker, side, action and its client order id);
// the amended order is tracked under a fresh client order id.
func (m *Manager) Amend(ctx context.Context, orderID string, orig Order, price, count int) (*Ack, error) {
	if orderID == "" {
		return nil, errs.InvalidRequest("order id is required")
	}
	amended := orig
	amended.Type = TypeLimit
	amended.Price = price
	amended.Count = count
	if err := amended.Validate(); err != nil {
		m.metrics.Order(ctx, "amend", "invalid")
		return nil, err
	}

	req := amendRequest{
		Ticker:               orig.Ticker,
		Side:                 string(orig.Side),
		Action:               string(orig.Action),
		ClientOrderID:        orig.ClientOrderID,
		UpdatedClientOrderID: NewClientOrderID(),
		Count:                count,
	}
	if orig.Side == SideYes {
		req.YesPrice = price
	} else {
		req.NoPrice = price
	}

	var resp amendResponse
	path := "/portfolio/orders/" + url.PathEscape(orderID) + "/amend"
	if err := m.client.Do(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		m.metrics.Order(ctx, "amend", "error")
		return nil, fmt.Errorf("amend order %s: %w", orderID, err)
	}

	if resp.OldOrder.OrderID != "" {
		m.tracker.Observe(ackFromAPI(&resp.OldOrder))
	}
	ack := ackFromAPI(&resp.Order)
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = req.UpdatedClientOrderID
	}
	m.tracker.Observe(ack)
	m.metrics.Order(ctx, "amend", "accepted")
	m.logger.Info("order amended", "order_id", orderID, "price", price, "count", count)
	return &ack, nil
}

// Decrease reduces a resting order's remaining count by reduceBy.
func (m *Manager) Decrease(ctx context.Context, orderID string, reduceBy int) (*Ack, error) {
	if orderID == "" {
		return nil, errs.InvalidRequest("order id is required")
	}
	if reduceBy <= 0 {
		return nil, errs.InvalidRequest("reduce_by must be positive, got %d", reduceBy)
	}

	var resp api.SingleOrderResponse
	path := "/portfolio/orders/" + url.PathEscape(orderID) + "/decrease"
	if err := m.client.Do(ctx, http.MethodPost, path, nil, decreaseRequest{ReduceBy: reduceBy}, &resp); err != nil {
		if nc := asNotCancelable(err); nc != nil {
			m.metrics.Order(ctx, "decrease", "not_cancelable")
			return nil, nc
		}
		m.metrics.Order(ctx, "decrease", "error")
		return nil, fmt.Errorf("decrease order %s: %w", orderID, err)
	}

	ack := ackFromAPI(&resp.Order)
	m.tracker.Observe(ack)
	m.metrics.Order(ctx, "decrease", "accepted")
	return &ack, nil
}

// Get reads the authoritative status of one order and updates the tracker.
func (m *Manager) Get(ctx context.Context, orderID string) (*Ack, error) {
	if orderID == "" {
		return nil, errs.InvalidRequest("order id is required")
	}

	var resp api.SingleOrderResponse
	if err := m.client.Do(ctx, http.MethodGet, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}

	ack := ackFromAPI(&resp.Order)
	if ack.OrderID == "" {
		ack.OrderID = orderID
	}
	if _, applied := m.tracker.Observe(ack); !applied {
		m.logger.Debug("stale order status ignored", "order_id", orderID, "status", ack.Status.String())
	}
	return &ack, nil
}

// ReconcileResult is the outcome of one status read in Reconcile.
type ReconcileResult struct {
	OrderID string
	Ack     *Ack
	Err     error
}

// Reconcile reads the status of each order concurrently and updates the
// tracker. Results are in input order; one failed read does not abort the
// others. With no ids it reconciles every open tracked order.
func (m *Manager) Reconcile(ctx context.Context, orderIDs ...string) []ReconcileResult {
	if len(orderIDs) == 0 {
		orderIDs = m.tracker.Open()
	}
	results := make([]ReconcileResult, len(orderIDs))

	var g errgroup.Group
	g.SetLimit(m.reconcileLimit)
	for i, id := range orderIDs {
		g.Go(func() error {
			ack, err := m.Get(ctx, id)
			results[i] = ReconcileResult{OrderID: id, Ack: ack, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
