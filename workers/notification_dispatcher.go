// workers/notification_dispatcher.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"league-registration-system/metrics"
	"league-registration-system/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrQueueFull         = errors.New("notification queue is full")
	ErrUnknownJobType    = errors.New("unknown notification job type")
	ErrDispatcherStopped = errors.New("notification dispatcher is stopped")
)

// Message is a rendered notification, independent of the channel carrying it.
type Message struct {
	RegistrationID string
	To             []string
	Bcc            []string
	Subject        string
	HTML           string
	Text           string
	// ObjectKey names the stored object for archive channels.
	ObjectKey string
}

// Channel delivers a message. A non-empty message id identifies the delivery.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) (string, error)
}

// RenderFunc turns a job payload into a message.
type RenderFunc func(payload any) (Message, error)

// Options is the job-level retry policy. The channel chain inside one
// attempt is not retried separately.
type Options struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultOptions is 3 retries starting at 10 seconds.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, RetryDelay: 10 * time.Second, MaxRetryDelay: 2 * time.Minute}
}

func (o Options) delay(attempt int) time.Duration {
	if o.RetryDelay <= 0 {
		return 0
	}
	d := o.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if o.MaxRetryDelay > 0 && d >= o.MaxRetryDelay {
			return o.MaxRetryDelay
		}
	}
	if o.MaxRetryDelay > 0 && d > o.MaxRetryDelay {
		return o.MaxRetryDelay
	}
	return d
}

// JobSpec binds a job type to its renderer, channel chain and retry policy.
type JobSpec struct {
	Render   RenderFunc
	Channels []Channel
	Options  Options
}

// AttemptLog persists every channel attempt.
type AttemptLog interface {
	AppendAttempt(ctx context.Context, a *models.NotificationAttempt) error
}

// Result is reported once per job after its final attempt.
type Result struct {
	JobID     string
	JobType   string
	Delivered bool
	Channel   string
	Attempts  int
	Err       error
}

type job struct {
	id      string
	jobType string
	payload any
	opts    Options
}

// Dispatcher queues notification jobs and delivers them on a worker pool.
type Dispatcher struct {
	attempts       AttemptLog
	logger         *slog.Logger
	metrics        *metrics.Metrics
	clock          clockwork.Clock
	workers        int
	attemptTimeout time.Duration
	onResult       func(Result)

	mu      sync.RWMutex
	specs   map[string]JobSpec
	queue   chan job
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDispatcherClock(c clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

// WithAttemptTimeout bounds a single channel delivery.
func WithAttemptTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.attemptTimeout = t
		}
	}
}

// WithResultHook is called from the worker goroutine after each job finishes.
func WithResultHook(fn func(Result)) DispatcherOption {
	return func(d *Dispatcher) { d.onResult = fn }
}

func NewDispatcher(attempts AttemptLog, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		attempts:       attempts,
		logger:         slog.Default(),
		clock:          clockwork.NewRealClock(),
		workers:        2,
		attemptTimeout: 45 * time.Second,
		specs:          make(map[string]JobSpec),
		queue:          make(chan job, 256),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds jobType to spec. It must be called before Start.
func (d *Dispatcher) Register(jobType string, spec JobSpec) error {
	if spec.Render == nil {
		return fmt.Errorf("job type %q: render func is required", jobType)
	}
	if len(spec.Channels) == 0 {
		return fmt.Errorf("job type %q: at least one channel is required", jobType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specs[jobType] = spec
	return nil
}

// Registered reports whether jobType has a spec.
func (d *Dispatcher) Registered(jobType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.specs[jobType]
	return ok
}

// Start launches the worker pool. Workers outlive ctx cancellation so Stop
// can drain the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(runCtx, i)
	}
	d.logger.Info("notification dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Enqueue accepts a job with the job type's registered options.
func (d *Dispatcher) Enqueue(jobType string, payload any) (string, error) {
	d.mu.RLock()
	spec, ok := d.specs[jobType]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return d.EnqueueWithOptions(jobType, payload, spec.Options)
}

// EnqueueWithOptions accepts a job without blocking. Acceptance does not mean
// delivery.
func (d *Dispatcher) EnqueueWithOptions(jobType string, payload any, opts Options) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return "", ErrDispatcherStopped
	}
	if _, ok := d.specs[jobType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	j := job{id: uuid.NewString(), jobType: jobType, payload: payload, opts: opts}
	select {
	case d.queue <- j:
		d.metrics.ObserveQueued(jobType)
		return j.id, nil
	default:
		return "", ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish. When ctx ends
// first, pending retries are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()
	for j := range d.queue {
		res := d.process(ctx, j)
		if !res.Delivered {
			d.logger.Error("notification job failed",
				"worker", id, "job_id", j.id, "job_type", j.jobType, "attempts", res.Attempts, "err", res.Err)
		}
		if d.onResult != nil {
			d.onResult(res)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) Result {
	d.mu.RLock()
	spec := d.specs[j.jobType]
	d.mu.RUnlock()

	res := Result{JobID: j.id, JobType: j.jobType}

	msg, err := d.render(spec, j.payload)
	if err != nil {
		// Rendering is deterministic, so retrying cannot help.
		d.record(ctx, j, Message{}, "render", 1, "", err)
		res.Attempts = 1
		res.Err = err
		return res
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		channel, err := d.attempt(ctx, j, spec, msg, attempt)
		if err == nil {
			res.Delivered = true
			res.Channel = channel
			res.Err = nil
			return res
		}
		res.Err = err
		if attempt > j.opts.MaxRetries {
			return res
		}

		delay := j.opts.delay(attempt)
		d.logger.Warn("notification attempt failed, retrying",
			"job_id", j.id, "job_type", j.jobType, "attempt", attempt, "retry_in", delay, "err", err)
		select {
		case <-d.clock.After(delay):
		case <-ctx.Done():
			res.Err = fmt.Errorf("retry abandoned: %w", ctx.Err())
			return res
		}
	}
}

// attempt walks the channel chain once. It returns the delivering channel's
// name, or the joined errors of every channel.
func (d *Dispatcher) attempt(ctx context.Context, j job, spec JobSpec, msg Message, attempt int) (string, error) {
	var errs []error
	for _, ch := range spec.Channels {
		messageID, err := d.deliver(ctx, ch, msg)
		d.record(ctx, j, msg, ch.Name(), attempt, messageID, err)
		if err == nil {
			return ch.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
	}
	return "", errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, msg Message) (messageID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	callCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()
	return ch.Deliver(callCtx, msg)
}

func (d *Dispatcher) render(spec JobSpec, payload any) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	return spec.Render(payload)
}

func (d *Dispatcher) record(ctx context.Context, j job, msg Message, channel string, attempt int, messageID string, deliverErr error) {
	recipients := append(append([]string(nil), msg.To...), msg.Bcc...)
	if msg.ObjectKey != "" && len(recipients) == 0 {
		recipients = []string{msg.ObjectKey}
	}
	a := &models.NotificationAttempt{
		ID:             uuid.NewString(),
		JobID:          j.id,
		JobType:        j.jobType,
		RegistrationID: msg.RegistrationID,
		Channel:        channel,
		Recipients:     strings.Join(recipients, ","),
		Subject:        msg.Subject,
		Attempt:        attempt,
		Success:        deliverErr == nil,
		MessageID:      messageID,
		CreatedAt:      d.clock.Now(),
	}
	if deliverErr != nil {
		a.Error = deliverErr.Error()
	}
	d.metrics.ObserveAttempt(j.jobType, channel, a.Success)

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.attempts.AppendAttempt(logCtx, a); err != nil {
		d.logger.Error("failed to append notification attempt",
			"job_id", j.id, "channel", channel, "err", err)
	}
}
