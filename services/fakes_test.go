package services

import (
	"context"
	"sync"

	"league-registration-system/models"
)

// stubClient is a GatewayClient with injectable behaviour.
type stubClient struct {
	initErr   error
	initBlock chan struct{}
	payFn     func(ctx context.Context, req PayRequest) (Initiation, error)
	statusFn  func(ctx context.Context, orderID string) (GatewayStatus, error)
}

func (c *stubClient) Init(ctx context.Context) error {
	if c.initBlock != nil {
		select {
		case <-c.initBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.initErr
}

func (c *stubClient) Pay(ctx context.Context, req PayRequest) (Initiation, error) {
	if c.payFn != nil {
		return c.payFn(ctx, req)
	}
	return Initiation{RedirectURL: "https://pay.test/" + req.OrderID, GatewayRef: "snap-" + req.OrderID}, nil
}

func (c *stubClient) OrderStatus(ctx context.Context, orderID string) (GatewayStatus, error) {
	if c.statusFn != nil {
		return c.statusFn(ctx, orderID)
	}
	return GatewayStatus{State: GatewayPending}, nil
}

// fakeGateway is a Gateway whose answers are set per registration id.
type fakeGateway struct {
	mu        sync.Mutex
	initErr   error
	statuses  map[string]GatewayStatus
	errs      map[string]error
	queries   map[string]int
	block     chan struct{}
	started   chan struct{}
	initiated []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: map[string]GatewayStatus{},
		errs:     map[string]error{},
		queries:  map[string]int{},
	}
}

func (g *fakeGateway) Initiate(_ context.Context, orderID string, _ int64, _ Contact) (Initiation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return Initiation{}, g.initErr
	}
	g.initiated = append(g.initiated, orderID)
	return Initiation{RedirectURL: "https://pay.test/" + orderID, GatewayRef: "snap-" + orderID}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, orderID string) (GatewayStatus, error) {
	g.mu.Lock()
	g.queries[orderID]++
	block, started := g.block, g.started
	status, err := g.statuses[orderID], g.errs[orderID]
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return GatewayStatus{}, ctx.Err()
		}
	}
	if err != nil {
		return GatewayStatus{}, err
	}
	if status.State == "" {
		status.State = GatewayPending
	}
	return status, nil
}

func (g *fakeGateway) set(id string, status GatewayStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = status
}

func (g *fakeGateway) fail(id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[id] = err
}

func (g *fakeGateway) queryCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries[id]
}

type queuedJob struct {
	jobType string
	reg     models.Registration
}

// fakeQueue records enqueued notification jobs.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       []queuedJob
	registered map[string]bool
	err        error
}

func newFakeQueue(jobTypes ...string) *fakeQueue {
	q := &fakeQueue{registered: map[string]bool{}}
	for _, jt := range jobTypes {
		q.registered[jt] = true
	}
	return q
}

func (q *fakeQueue) Enqueue(jobType string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	reg, _ := payload.(models.Registration)
	q.jobs = append(q.jobs, queuedJob{jobType: jobType, reg: reg})
	return "job", nil
}

func (q *fakeQueue) Registered(jobType string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.registered[jobType]
}

func (q *fakeQueue) count(jobType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.jobType == jobType {
			n++
		}
	}
	return n
}

func (q *fakeQueue) total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
