package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"league-registration-system/models"
	"league-registration-system/store"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testServerKey = "SB-Mid-server-test"

type RegistrationServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *clockwork.FakeClock
	store   *store.InMemory
	gateway *fakeGateway
	queue   *fakeQueue
	svc     *RegistrationService
}

func TestRegistrationServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistrationServiceSuite))
}

func (s *RegistrationServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	s.store = store.NewInMemory()
	s.gateway = newFakeGateway()
	s.queue = newFakeQueue(JobCustomerConfirmation, JobAdminNotification)
	s.svc = NewRegistrationService(s.store, s.gateway, s.queue, ServiceConfig{
		League:         "Indian Jabalpur Premier League",
		Season:         "2025",
		Fee:            3300,
		GatewayEnabled: true,
		CallbackKey:    testServerKey,
	}, WithClock(s.clock))
}

func validRequest(method models.PaymentMethod) RegisterRequest {
	return RegisterRequest{
		Player: models.PlayerProfile{
			FullName:          "  rahul   sharma ",
			Email:             "Rahul@Example.com",
			Phone:             "+91 98765 43210",
			AgeGroup:          models.AgeGroupSenior,
			State:             "Madhya Pradesh",
			PlayingRole:       "All Rounder",
			BattingHandedness: "Right Handed",
			BowlingStyle:      "Right Arm Medium",
			BattingOrder:      "Middle Order",
		},
		PaymentMethod: method,
		Notes:         "Available on weekends",
	}
}

func (s *RegistrationServiceSuite) register(method models.PaymentMethod) *models.Registration {
	res, err := s.svc.Register(s.ctx, validRequest(method))
	s.Require().NoError(err)
	reg, err := s.store.FindByID(s.ctx, res.RegistrationID)
	s.Require().NoError(err)
	return reg
}

func (s *RegistrationServiceSuite) TestRegisterGatewayPersistsPending() {
	res, err := s.svc.Register(s.ctx, validRequest(models.PaymentMethodGateway))
	require.NoError(s.T(), err)
	assert.Regexp(s.T(), `^REG-\d{13}-[0-9A-F]{9}$`, res.RegistrationID)
	assert.Equal(s.T(), int64(3300), res.Amount)
	assert.Equal(s.T(), "https://pay.test/"+res.RegistrationID, res.RedirectURL)
	assert.Equal(s.T(), models.RegistrationPending, res.Status)

	reg, err := s.store.FindByID(s.ctx, res.RegistrationID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentPending, reg.Payment.Status)
	assert.Equal(s.T(), "snap-"+reg.ID, *reg.Payment.GatewayRef)
	assert.Equal(s.T(), "rahul sharma", reg.Player.FullName)
	assert.Equal(s.T(), "rahul@example.com", reg.Player.Email)
	assert.Equal(s.T(), "9876543210", reg.Player.Phone)
	assert.Equal(s.T(), s.clock.Now(), reg.CreatedAt)
	assert.Zero(s.T(), s.queue.total(), "pending registrations never notify")
}

func (s *RegistrationServiceSuite) TestRegisterGatewayFailureIsNotPersisted() {
	s.gateway.initErr = &GatewayError{Kind: GatewayUnavailable, Op: "initiate", Err: errors.New("503")}

	_, err := s.svc.Register(s.ctx, validRequest(models.PaymentMethodGateway))
	var ierr *IntakeError
	require.ErrorAs(s.T(), err, &ierr)
	assert.Contains(s.T(), ierr.Reason, "temporarily unavailable")

	regs, total, err := s.store.List(s.ctx, store.ListFilter{})
	require.NoError(s.T(), err)
	assert.Zero(s.T(), total)
	assert.Empty(s.T(), regs)
}

func (s *RegistrationServiceSuite) TestRegisterCashConfirmsAndNotifiesOnce() {
	reg := s.register(models.PaymentMethodCash)
	assert.Equal(s.T(), models.RegistrationConfirmed, reg.Status)
	assert.Equal(s.T(), models.PaymentPending, reg.Payment.Status)
	assert.True(s.T(), reg.Notified.Customer)
	assert.True(s.T(), reg.Notified.Admin)
	assert.Equal(s.T(), 1, s.queue.count(JobCustomerConfirmation))
	assert.Equal(s.T(), 1, s.queue.count(JobAdminNotification))
	assert.Zero(s.T(), s.queue.count(JobReceiptArchive), "archive job only when registered")
	assert.Empty(s.T(), s.gateway.initiated)

	// Verifying a cash registration repeats nothing.
	_, err := s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, s.queue.total())
}

func (s *RegistrationServiceSuite) TestRegisterQueuesReceiptWhenArchiveRegistered() {
	s.queue.registered[JobReceiptArchive] = true
	s.register(models.PaymentMethodCash)
	assert.Equal(s.T(), 1, s.queue.count(JobReceiptArchive))
}

func (s *RegistrationServiceSuite) TestRegisterValidation() {
	req := validRequest(models.PaymentMethodGateway)
	req.Player.Phone = "12345"
	req.Player.Email = "not-an-email"
	req.Player.PlayingRole = "Captain"

	_, err := s.svc.Register(s.ctx, req)
	var verr *ValidationError
	require.ErrorAs(s.T(), err, &verr)
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Contains(s.T(), fields, "player.phone")
	assert.Contains(s.T(), fields, "player.email")
	assert.Contains(s.T(), fields, "player.playing_role")
	assert.Empty(s.T(), s.gateway.initiated)
}

func (s *RegistrationServiceSuite) TestRegisterRejectsUnknownPaymentMethod() {
	_, err := s.svc.Register(s.ctx, validRequest("cheque"))
	var verr *ValidationError
	require.ErrorAs(s.T(), err, &verr)
	assert.Equal(s.T(), "payment_method", verr.Fields[0].Field)
}

func (s *RegistrationServiceSuite) TestRegisterGatewayDisabled() {
	svc := NewRegistrationService(s.store, nil, s.queue, ServiceConfig{Fee: 3300}, WithClock(s.clock))

	_, err := svc.Register(s.ctx, validRequest(models.PaymentMethodGateway))
	var verr *ValidationError
	require.ErrorAs(s.T(), err, &verr)

	res, err := svc.Register(s.ctx, validRequest(models.PaymentMethodCash))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RegistrationConfirmed, res.Status)
}

// Scenario: the player pays and comes back through the verify redirect.
func (s *RegistrationServiceSuite) TestVerifyConfirmsAndNotifiesOnce() {
	reg := s.register(models.PaymentMethodGateway)
	s.gateway.set(reg.ID, GatewayStatus{State: GatewayCompleted, TransactionID: "txn-1"})

	got, err := s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RegistrationConfirmed, got.Status)
	assert.Equal(s.T(), models.PaymentCompleted, got.Payment.Status)
	assert.Equal(s.T(), "txn-1", *got.Payment.GatewayTransactionID)
	assert.Equal(s.T(), s.clock.Now(), *got.Payment.VerifiedAt)

	_, err = s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 1, s.queue.count(JobCustomerConfirmation))
	assert.Equal(s.T(), 1, s.queue.count(JobAdminNotification))
	assert.Equal(s.T(), 1, s.gateway.queryCount(reg.ID), "terminal registrations are not re-queried")

	stored, err := s.store.FindByID(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, stored.Payment.CheckCount)
}

// Scenario: the player abandons checkout and the gateway reports a failure.
func (s *RegistrationServiceSuite) TestVerifyFailedCancels() {
	reg := s.register(models.PaymentMethodGateway)
	s.gateway.set(reg.ID, GatewayStatus{State: GatewayFailed})

	got, err := s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RegistrationCancelled, got.Status)
	assert.Equal(s.T(), models.PaymentFailed, got.Payment.Status)
	assert.Zero(s.T(), s.queue.total())
}

func (s *RegistrationServiceSuite) TestVerifyGatewayErrorKeepsState() {
	reg := s.register(models.PaymentMethodGateway)
	s.gateway.fail(reg.ID, &GatewayError{Kind: GatewayTimeout, Op: "query_status"})

	got, err := s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RegistrationPending, got.Status)
	assert.Equal(s.T(), models.PaymentPending, got.Payment.Status)
}

func (s *RegistrationServiceSuite) TestVerifyUnknownRegistration() {
	_, err := s.svc.Verify(s.ctx, "REG-missing")
	assert.ErrorIs(s.T(), err, ErrRegistrationNotFound)
}

func (s *RegistrationServiceSuite) TestVerifySkipsQueryAlreadyInFlight() {
	reg := s.register(models.PaymentMethodGateway)
	s.gateway.set(reg.ID, GatewayStatus{State: GatewayCompleted})
	s.gateway.block = make(chan struct{})
	s.gateway.started = make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	var first *models.Registration
	go func() {
		defer wg.Done()
		first, _ = s.svc.Verify(s.ctx, reg.ID)
	}()
	<-s.gateway.started

	second, err := s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentPending, second.Payment.Status, "second caller gets stored state")

	close(s.gateway.block)
	wg.Wait()
	require.NotNil(s.T(), first)
	assert.Equal(s.T(), models.PaymentCompleted, first.Payment.Status)
	assert.Equal(s.T(), 1, s.gateway.queryCount(reg.ID))
}

func (s *RegistrationServiceSuite) notification(id, status, gross string) MidtransNotification {
	n := MidtransNotification{
		OrderID:           id,
		StatusCode:        "200",
		GrossAmount:       gross,
		TransactionStatus: status,
		TransactionID:     "txn-cb",
	}
	n.SignatureKey = MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, testServerKey)
	return n
}

func (s *RegistrationServiceSuite) TestCallbackSettlementConfirms() {
	reg := s.register(models.PaymentMethodGateway)

	outcome, err := s.svc.HandleCallback(s.ctx, s.notification(reg.ID, "settlement", "3300.00"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CallbackApplied, outcome)

	stored, err := s.store.FindByID(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RegistrationConfirmed, stored.Status)
	assert.Equal(s.T(), "txn-cb", *stored.Payment.GatewayTransactionID)

	// Gateways retry notifications.
	_, err = s.svc.HandleCallback(s.ctx, s.notification(reg.ID, "settlement", "3300.00"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, s.queue.count(JobCustomerConfirmation))
}

func (s *RegistrationServiceSuite) TestCallbackRejectsBadSignature() {
	reg := s.register(models.PaymentMethodGateway)
	n := s.notification(reg.ID, "settlement", "3300.00")
	n.SignatureKey = "deadbeef"

	_, err := s.svc.HandleCallback(s.ctx, n)
	assert.ErrorIs(s.T(), err, ErrInvalidSignature)
}

func (s *RegistrationServiceSuite) TestCallbackIgnoresUnknownAndMismatchedAmount() {
	outcome, err := s.svc.HandleCallback(s.ctx, s.notification("REG-unknown", "settlement", "3300.00"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CallbackIgnored, outcome)

	reg := s.register(models.PaymentMethodGateway)
	outcome, err = s.svc.HandleCallback(s.ctx, s.notification(reg.ID, "settlement", "1.00"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CallbackIgnored, outcome)

	stored, err := s.store.FindByID(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentPending, stored.Payment.Status)
}

// Scenario: the payment succeeds after the registration already expired.
func (s *RegistrationServiceSuite) TestLateSuccessAfterExpiryDoesNotResurrect() {
	reg := s.register(models.PaymentMethodGateway)
	_, err := s.store.ExpirePendingGateway(s.ctx, s.clock.Now().Add(time.Second))
	require.NoError(s.T(), err)

	_, err = s.svc.HandleCallback(s.ctx, s.notification(reg.ID, "settlement", "3300.00"))
	require.NoError(s.T(), err)

	stored, err := s.store.FindByID(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentExpired, stored.Payment.Status)
	assert.Equal(s.T(), models.RegistrationCancelled, stored.Status)
	assert.Zero(s.T(), s.queue.total())
}

func (s *RegistrationServiceSuite) TestLostRaceUsesStoredRecord() {
	reg := s.register(models.PaymentMethodGateway)
	stale := *reg

	// Another process already failed the payment.
	_, err := s.store.TransitionPayment(s.ctx, reg.ID, store.PaymentTransition{
		Status:        models.RegistrationCancelled,
		PaymentStatus: models.PaymentFailed,
	})
	require.NoError(s.T(), err)

	got, changed, err := s.svc.applyGatewayStatus(s.ctx, stale, GatewayStatus{State: GatewayCompleted}, "sweeper")
	require.NoError(s.T(), err)
	assert.False(s.T(), changed)
	assert.Equal(s.T(), models.PaymentFailed, got.Payment.Status)
	assert.Zero(s.T(), s.queue.total())
}

func (s *RegistrationServiceSuite) TestNotifyRepairsUnclaimedAudience() {
	reg := s.register(models.PaymentMethodGateway)
	_, err := s.store.TransitionPayment(s.ctx, reg.ID, store.PaymentTransition{
		Status:        models.RegistrationConfirmed,
		PaymentStatus: models.PaymentCompleted,
	})
	require.NoError(s.T(), err)
	// The process crashed after claiming only the customer flag.
	_, err = s.store.ClaimNotification(s.ctx, reg.ID, models.AudienceCustomer)
	require.NoError(s.T(), err)

	_, err = s.svc.Verify(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), s.queue.count(JobCustomerConfirmation))
	assert.Equal(s.T(), 1, s.queue.count(JobAdminNotification))
}

func (s *RegistrationServiceSuite) TestEnqueueFailureKeepsFlag() {
	s.queue.err = errors.New("queue full")
	reg := s.register(models.PaymentMethodCash)

	assert.True(s.T(), reg.Notified.Customer)
	assert.True(s.T(), reg.Notified.Admin)
}

func (s *RegistrationServiceSuite) TestMarkCashCollected() {
	cash := s.register(models.PaymentMethodCash)

	got, err := s.svc.MarkCashCollected(s.ctx, cash.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentCompleted, got.Payment.Status)
	assert.Equal(s.T(), models.RegistrationConfirmed, got.Status)
	require.NotNil(s.T(), got.Payment.VerifiedAt)

	_, err = s.svc.MarkCashCollected(s.ctx, cash.ID)
	assert.ErrorIs(s.T(), err, ErrInvalidTransition)

	online := s.register(models.PaymentMethodGateway)
	_, err = s.svc.MarkCashCollected(s.ctx, online.ID)
	assert.ErrorIs(s.T(), err, ErrInvalidTransition)

	_, err = s.svc.MarkCashCollected(s.ctx, "REG-missing")
	assert.ErrorIs(s.T(), err, ErrRegistrationNotFound)
}

func (s *RegistrationServiceSuite) TestAttemptsRequireRegistration() {
	_, err := s.svc.Attempts(s.ctx, "REG-missing")
	assert.ErrorIs(s.T(), err, ErrRegistrationNotFound)

	reg := s.register(models.PaymentMethodCash)
	require.NoError(s.T(), s.store.AppendAttempt(s.ctx, &models.NotificationAttempt{ID: "a", RegistrationID: reg.ID, Channel: "noop", Success: true}))

	attempts, err := s.svc.Attempts(s.ctx, reg.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), attempts, 1)
	assert.Equal(s.T(), "noop", attempts[0].Channel)
}

func TestAmountMatches(t *testing.T) {
	assert.True(t, amountMatches("3300.00", 3300))
	assert.True(t, amountMatches("3300", 3300))
	assert.False(t, amountMatches("3299.00", 3300))
	assert.False(t, amountMatches("abc", 3300))
}

func TestIntakeReason(t *testing.T) {
	assert.Contains(t, intakeReason(&GatewayError{Kind: GatewayTimeout}), "in time")
	assert.Contains(t, intakeReason(&GatewayError{Kind: GatewayRejected}), "rejected")
	assert.Equal(t, "payment initiation failed", intakeReason(errors.New("x")))
}
