// services/payment_gateway.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"league-registration-system/metrics"
)

// GatewayState is the provider's view of a payment, reduced to what the
// registration lifecycle cares about.
type GatewayState string

const (
	GatewayCompleted GatewayState = "COMPLETED"
	GatewayFailed    GatewayState = "FAILED"
	GatewayPending   GatewayState = "PENDING"
)

// GatewayStatus is the result of a status query.
type GatewayStatus struct {
	State         GatewayState
	TransactionID string
}

// Initiation is what the player needs to go and pay.
type Initiation struct {
	RedirectURL string
	GatewayRef  string
}

// Contact identifies the payer to the provider.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// PayRequest is passed to the gateway client.
type PayRequest struct {
	OrderID string
	Amount  int64
	Contact Contact
}

type GatewayErrorKind string

const (
	GatewayUnavailable GatewayErrorKind = "unavailable"
	GatewayTimeout     GatewayErrorKind = "timeout"
	GatewayRejected    GatewayErrorKind = "rejected"
	GatewayUnknown     GatewayErrorKind = "unknown"
)

// GatewayError is the only error type the adapter returns.
type GatewayError struct {
	Kind GatewayErrorKind
	Op   string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// GatewayClient is the provider SDK seam.
type GatewayClient interface {
	Init(ctx context.Context) error
	Pay(ctx context.Context, req PayRequest) (Initiation, error)
	OrderStatus(ctx context.Context, orderID string) (GatewayStatus, error)
}

// GatewayInitState tracks client initialization.
type GatewayInitState int

const (
	GatewayUninitialized GatewayInitState = iota
	GatewayReady
	GatewayInitFailed
)

func (s GatewayInitState) String() string {
	switch s {
	case GatewayReady:
		return "ready"
	case GatewayInitFailed:
		return "failed"
	}
	return "uninitialized"
}

// PaymentGateway wraps a GatewayClient with lazy initialization, per-call
// timeouts and error tagging. It never panics.
type PaymentGateway struct {
	client      GatewayClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	initWait    time.Duration
	initTimeout time.Duration
	callTimeout time.Duration

	startOnce sync.Once
	ready     chan struct{}

	mu      sync.RWMutex
	state   GatewayInitState
	initErr error
}

type GatewayOption func(*PaymentGateway)

func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *PaymentGateway) { g.logger = logger }
}

func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *PaymentGateway) { g.metrics = m }
}

// WithGatewayTimeouts sets how long a call waits for initialization, how long
// initialization may take, and how long a single call may take.
func WithGatewayTimeouts(initWait, initTimeout, callTimeout time.Duration) GatewayOption {
	return func(g *PaymentGateway) {
		if initWait > 0 {
			g.initWait = initWait
		}
		if initTimeout > 0 {
			g.initTimeout = initTimeout
		}
		if callTimeout > 0 {
			g.callTimeout = callTimeout
		}
	}
}

func NewPaymentGateway(client GatewayClient, opts ...GatewayOption) *PaymentGateway {
	g := &PaymentGateway{
		client:      client,
		logger:      slog.Default(),
		initWait:    10 * time.Second,
		initTimeout: 30 * time.Second,
		callTimeout: 15 * time.Second,
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins initialization in the background. Safe to call many times;
// calls made before Start trigger it.
func (g *PaymentGateway) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		go g.initialize(context.WithoutCancel(ctx))
	})
}

func (g *PaymentGateway) State() GatewayInitState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *PaymentGateway) initialize(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, g.initTimeout)
	defer cancel()

	g.logger.Info("initializing payment gateway client")
	_, err := callWithTimeout(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.client.Init(ctx)
	})

	g.mu.Lock()
	if err != nil {
		g.state = GatewayInitFailed
		g.initErr = err
	} else {
		g.state = GatewayReady
	}
	g.mu.Unlock()
	close(g.ready)

	if err != nil {
		g.logger.Error("payment gateway initialization failed", "err", err)
		return
	}
	g.logger.Info("payment gateway client ready")
}

// await blocks until initialization finishes, the bounded wait elapses, or
// ctx ends.
func (g *PaymentGateway) await(ctx context.Context, op string) error {
	g.Start(ctx)

	timer := time.NewTimer(g.initWait)
	defer timer.Stop()

	select {
	case <-g.ready:
	case <-timer.C:
		return &GatewayError{Kind: GatewayUnavailable, Op: op, Err: errors.New("client initialization still pending")}
	case <-ctx.Done():
		return &GatewayError{Kind: GatewayUnavailable, Op: op, Err: ctx.Err()}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != GatewayReady {
		return &GatewayError{Kind: GatewayUnavailable, Op: op, Err: g.initErr}
	}
	return nil
}

// Initiate asks the provider for a payment page for orderID.
func (g *PaymentGateway) Initiate(ctx context.Context, orderID string, amount int64, contact Contact) (Initiation, error) {
	const op = "initiate"
	if err := g.await(ctx, op); err != nil {
		return Initiation{}, g.fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	res, err := callWithTimeout(callCtx, func(ctx context.Context) (Initiation, error) {
		return g.client.Pay(ctx, PayRequest{OrderID: orderID, Amount: amount, Contact: contact})
	})
	if err != nil {
		return Initiation{}, g.fail(classifyGatewayError(op, err))
	}
	if res.RedirectURL == "" {
		return Initiation{}, g.fail(&GatewayError{Kind: GatewayUnknown, Op: op, Err: errors.New("provider returned no redirect url")})
	}
	return res, nil
}

// QueryStatus asks the provider for the current state of orderID. States the
// adapter does not recognise are reported as pending.
func (g *PaymentGateway) QueryStatus(ctx context.Context, orderID string) (GatewayStatus, error) {
	const op = "query_status"
	if err := g.await(ctx, op); err != nil {
		return GatewayStatus{}, g.fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	res, err := callWithTimeout(callCtx, func(ctx context.Context) (GatewayStatus, error) {
		return g.client.OrderStatus(ctx, orderID)
	})
	if err != nil {
		return GatewayStatus{}, g.fail(classifyGatewayError(op, err))
	}
	switch res.State {
	case GatewayCompleted, GatewayFailed, GatewayPending:
	default:
		g.logger.Warn("ambiguous gateway state treated as pending", "registration_id", orderID, "state", res.State)
		res.State = GatewayPending
	}
	return res, nil
}

func (g *PaymentGateway) fail(err error) error {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		g.metrics.ObserveGatewayError(gerr.Op, string(gerr.Kind))
	}
	return err
}

func classifyGatewayError(op string, err error) *GatewayError {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		if gerr.Op == "" {
			gerr.Op = op
		}
		return gerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: GatewayTimeout, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &GatewayError{Kind: GatewayUnavailable, Op: op, Err: err}
	}
	return &GatewayError{Kind: GatewayUnknown, Op: op, Err: err}
}

// callWithTimeout runs fn in its own goroutine so a client that ignores ctx
// still cannot hold the caller past the deadline. Panics become errors.
func callWithTimeout[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{val: zero, err: fmt.Errorf("gateway client panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
