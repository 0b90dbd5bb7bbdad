// services/registration_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"league-registration-system/metrics"
	"league-registration-system/models"
	"league-registration-system/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrInvalidTransition    = errors.New("invalid registration transition")
	ErrInvalidSignature     = errors.New("invalid gateway signature")
	ErrGatewayDisabled      = errors.New("online payments are disabled")
)

// IntakeError means the registration could not be started because the
// gateway did not hand out a payment page. Nothing was persisted.
type IntakeError struct {
	Reason string
	Err    error
}

func (e *IntakeError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *IntakeError) Unwrap() error { return e.Err }

// RegistrationStore is the persistence the service needs.
type RegistrationStore interface {
	Create(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	TransitionPayment(ctx context.Context, id string, t store.PaymentTransition) (bool, error)
	IncrementCheckCount(ctx context.Context, id string) error
	ClaimNotification(ctx context.Context, id string, audience models.Audience) (bool, error)
	ListPendingGateway(ctx context.Context, since time.Time) ([]models.Registration, error)
	ExpirePendingGateway(ctx context.Context, before time.Time) (int64, error)
	List(ctx context.Context, f store.ListFilter) ([]models.Registration, int64, error)
	ListAttempts(ctx context.Context, registrationID string) ([]models.NotificationAttempt, error)
}

// Gateway is the payment gateway adapter.
type Gateway interface {
	Initiate(ctx context.Context, orderID string, amount int64, contact Contact) (Initiation, error)
	QueryStatus(ctx context.Context, orderID string) (GatewayStatus, error)
}

// NotificationQueue accepts notification jobs without blocking.
type NotificationQueue interface {
	Enqueue(jobType string, payload any) (string, error)
	Registered(jobType string) bool
}

// ServiceConfig holds the league settings used at intake.
type ServiceConfig struct {
	League         string
	Season         string
	Fee            int64
	GatewayEnabled bool
	// CallbackKey verifies gateway notification signatures.
	CallbackKey string
}

// RegisterResult is returned by a successful intake.
type RegisterResult struct {
	RegistrationID string                    `json:"registration_id"`
	Amount         int64                     `json:"amount"`
	RedirectURL    string                    `json:"redirect_url,omitempty"`
	Status         models.RegistrationStatus `json:"status"`
}

// CallbackOutcome tells the gateway whether a notification was used.
type CallbackOutcome string

const (
	CallbackApplied CallbackOutcome = "applied"
	CallbackIgnored CallbackOutcome = "ignored"
)

const notifyTimeout = 10 * time.Second

type RegistrationService struct {
	store    RegistrationStore
	gateway  Gateway
	queue    NotificationQueue
	cfg      ServiceConfig
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    clockwork.Clock

	// inflight holds ids with a verify query running against the gateway.
	inflight sync.Map
}

type ServiceOption func(*RegistrationService)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *RegistrationService) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *RegistrationService) { s.metrics = m }
}

func WithClock(c clockwork.Clock) ServiceOption {
	return func(s *RegistrationService) { s.clock = c }
}

func NewRegistrationService(st RegistrationStore, gw Gateway, queue NotificationQueue, cfg ServiceConfig, opts ...ServiceOption) *RegistrationService {
	s := &RegistrationService{
		store:    st,
		gateway:  gw,
		queue:    queue,
		cfg:      cfg,
		validate: newValidator(),
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the request and persists a new registration. Gateway
// registrations are only persisted once the gateway returned a payment page.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	req = normalizeRequest(req)
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	if req.PaymentMethod == models.PaymentMethodGateway && (!s.cfg.GatewayEnabled || s.gateway == nil) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "payment_method", Message: ErrGatewayDisabled.Error()}}}
	}

	now := s.clock.Now()
	reg := &models.Registration{
		ID:     newRegistrationID(now),
		Player: req.Player,
		League: s.cfg.League,
		Season: s.cfg.Season,
		Amount: s.cfg.Fee,
		Status: models.RegistrationPending,
		Payment: models.Payment{
			Method: req.PaymentMethod,
			Status: models.PaymentPending,
		},
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch req.PaymentMethod {
	case models.PaymentMethodGateway:
		init, err := s.gateway.Initiate(ctx, reg.ID, reg.Amount, Contact{
			Name:  reg.Player.FullName,
			Email: reg.Player.Email,
			Phone: reg.Player.Phone,
		})
		if err != nil {
			s.logger.Error("payment initiation failed", "registration_id", reg.ID, "err", err)
			return nil, &IntakeError{Reason: intakeReason(err), Err: err}
		}
		reg.Payment.GatewayRef = &init.GatewayRef
		reg.Payment.RedirectURL = &init.RedirectURL
	case models.PaymentMethodCash:
		reg.Status = models.RegistrationConfirmed
	}

	if err := s.store.Create(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to save registration: %w", err)
	}
	s.metrics.ObserveRegistration(string(reg.Payment.Method))
	s.logger.Info("registration created",
		"registration_id", reg.ID, "method", reg.Payment.Method, "status", reg.Status)

	if reg.Status == models.RegistrationConfirmed {
		s.notifyConfirmed(ctx, *reg)
	}

	res := &RegisterResult{RegistrationID: reg.ID, Amount: reg.Amount, Status: reg.Status}
	if reg.Payment.RedirectURL != nil {
		res.RedirectURL = *reg.Payment.RedirectURL
	}
	return res, nil
}

func intakeReason(err error) string {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case GatewayUnavailable:
			return "payment service is temporarily unavailable, please try again shortly"
		case GatewayTimeout:
			return "payment service did not respond in time, please try again"
		case GatewayRejected:
			return "payment request was rejected by the payment service"
		}
	}
	return "payment initiation failed"
}

// Verify re-queries the gateway for a pending gateway registration and
// applies the result. Gateway errors are logged and the stored state is
// returned. If a query for the same id is already running, the stored state
// is returned without a second query.
func (s *RegistrationService) Verify(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Payment.Method != models.PaymentMethodGateway || reg.Payment.Status.Terminal() {
		if reg.Status == models.RegistrationConfirmed {
			s.notifyConfirmed(ctx, *reg)
		}
		return reg, nil
	}

	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return reg, nil
	}
	defer s.inflight.Delete(id)

	next, _, err := s.reconcile(ctx, *reg, "verify")
	if err != nil {
		s.logger.Warn("payment verification failed", "registration_id", id, "err", err)
		return reg, nil
	}
	return next, nil
}

// HandleCallback applies a gateway notification. Notifications for unknown
// registrations, or whose amount does not match, are ignored.
func (s *RegistrationService) HandleCallback(ctx context.Context, n MidtransNotification) (CallbackOutcome, error) {
	if !n.VerifySignature(s.cfg.CallbackKey) {
		return "", ErrInvalidSignature
	}

	reg, err := s.store.FindByID(ctx, n.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("callback for unknown registration", "registration_id", n.OrderID)
		return CallbackIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load registration: %w", err)
	}
	if !amountMatches(n.GrossAmount, reg.Amount) {
		s.logger.Warn("callback amount mismatch",
			"registration_id", reg.ID, "gross_amount", n.GrossAmount, "amount", reg.Amount)
		return CallbackIgnored, nil
	}

	if _, _, err := s.applyGatewayStatus(ctx, *reg, n.Status(), "callback"); err != nil {
		return "", err
	}
	return CallbackApplied, nil
}

func amountMatches(gross string, amount int64) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(gross), 64)
	if err != nil {
		return false
	}
	return int64(v) == amount
}

// Status returns a stored registration.
func (s *RegistrationService) Status(ctx context.Context, id string) (*models.Registration, error) {
	return s.find(ctx, id)
}

func (s *RegistrationService) List(ctx context.Context, f store.ListFilter) ([]models.Registration, int64, error) {
	regs, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list registrations: %w", err)
	}
	return regs, total, nil
}

// Attempts returns the notification attempt log of a registration.
func (s *RegistrationService) Attempts(ctx context.Context, id string) ([]models.NotificationAttempt, error) {
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification attempts: %w", err)
	}
	return attempts, nil
}

// MarkCashCollected completes the payment of a cash registration.
func (s *RegistrationService) MarkCashCollected(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Payment.Method != models.PaymentMethodCash || reg.Payment.Status != models.PaymentPending {
		return nil, fmt.Errorf("%w: %s payment is %s", ErrInvalidTransition, reg.Payment.Method, reg.Payment.Status)
	}

	now := s.clock.Now()
	ok, err := s.store.TransitionPayment(ctx, id, store.PaymentTransition{
		Status:        models.RegistrationConfirmed,
		PaymentStatus: models.PaymentCompleted,
		VerifiedAt:    &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update registration: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: payment already settled", ErrInvalidTransition)
	}
	s.metrics.ObserveTransition(string(models.PaymentCompleted), "cash")
	s.logger.Info("cash payment collected", "registration_id", id)
	return s.find(ctx, id)
}

func (s *RegistrationService) find(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := s.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRegistrationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	return reg, nil
}

// reconcile queries the gateway and applies the result.
func (s *RegistrationService) reconcile(ctx context.Context, reg models.Registration, source string) (*models.Registration, bool, error) {
	if s.gateway == nil {
		return &reg, false, ErrGatewayDisabled
	}
	status, qerr := s.gateway.QueryStatus(ctx, reg.ID)
	if err := s.store.IncrementCheckCount(ctx, reg.ID); err != nil {
		s.logger.Warn("failed to count payment check", "registration_id", reg.ID, "err", err)
	}
	if qerr != nil {
		return &reg, false, qerr
	}
	return s.applyGatewayStatus(ctx, reg, status, source)
}

// applyGatewayStatus persists the transition with a conditional write. When
// the write loses a race the stored record wins. Confirmed records always
// go through the notification step so an interrupted send is repaired.
func (s *RegistrationService) applyGatewayStatus(ctx context.Context, reg models.Registration, status GatewayStatus, source string) (*models.Registration, bool, error) {
	next, changed := ApplyPaymentResult(reg, status, s.clock.Now())
	current := &next

	if changed {
		ok, err := s.store.TransitionPayment(ctx, reg.ID, store.PaymentTransition{
			Status:        next.Status,
			PaymentStatus: next.Payment.Status,
			TransactionID: next.Payment.GatewayTransactionID,
			VerifiedAt:    next.Payment.VerifiedAt,
		})
		if err != nil {
			return &reg, false, fmt.Errorf("failed to apply payment result: %w", err)
		}
		if ok {
			s.metrics.ObserveTransition(string(next.Payment.Status), source)
			s.logger.Info("payment status updated",
				"registration_id", reg.ID, "payment_status", next.Payment.Status, "status", next.Status, "source", source)
		} else {
			changed = false
			current, err = s.store.FindByID(ctx, reg.ID)
			if err != nil {
				return &reg, false, fmt.Errorf("failed to reload registration: %w", err)
			}
		}
	}

	if current.Status == models.RegistrationConfirmed {
		s.notifyConfirmed(ctx, *current)
	}
	return current, changed, nil
}

// notifyConfirmed claims each audience flag and enqueues that audience's
// jobs only when the claim succeeded.
func (s *RegistrationService) notifyConfirmed(ctx context.Context, reg models.Registration) {
	if s.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	for _, audience := range []models.Audience{models.AudienceCustomer, models.AudienceAdmin} {
		if reg.Notified.Has(audience) {
			continue
		}
		claimed, err := s.store.ClaimNotification(ctx, reg.ID, audience)
		if err != nil {
			s.logger.Error("failed to claim notification",
				"registration_id", reg.ID, "audience", audience, "err", err)
			continue
		}
		if !claimed {
			continue
		}
		for _, jobType := range audienceJobs(audience) {
			if jobType == JobReceiptArchive && !s.queue.Registered(jobType) {
				continue
			}
			jobID, err := s.queue.Enqueue(jobType, reg)
			if err != nil {
				s.logger.Error("failed to enqueue notification",
					"registration_id", reg.ID, "job_type", jobType, "err", err)
				continue
			}
			s.logger.Info("notification queued",
				"registration_id", reg.ID, "job_type", jobType, "job_id", jobID)
		}
	}
}

func audienceJobs(a models.Audience) []string {
	switch a {
	case models.AudienceCustomer:
		return []string{JobCustomerConfirmation, JobReceiptArchive}
	case models.AudienceAdmin:
		return []string{JobAdminNotification}
	}
	return nil
}

// newRegistrationID is REG-<unix millis>-<9 random hex chars>.
func newRegistrationID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("REG-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}
