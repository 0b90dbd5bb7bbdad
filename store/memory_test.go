package store

import (
	"context"
	"testing"
	"time"

	"league-registration-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) registration(id string, method models.PaymentMethod, createdAt time.Time) *models.Registration {
	ref := "snap-" + id
	return &models.Registration{
		ID: id,
		Player: models.PlayerProfile{
			FullName: "Rahul Sharma",
			Email:    "rahul@example.com",
			Phone:    "9876543210",
		},
		Amount:    3300,
		Status:    models.RegistrationPending,
		Payment:   models.Payment{Method: method, Status: models.PaymentPending, GatewayRef: &ref},
		CreatedAt: createdAt,
	}
}

func (s *InMemoryStoreSuite) TestCreateRejectsDuplicateID() {
	reg := s.registration("REG-1", models.PaymentMethodGateway, s.now)
	require.NoError(s.T(), s.store.Create(s.ctx, reg))

	err := s.store.Create(s.ctx, s.registration("REG-1", models.PaymentMethodGateway, s.now))
	assert.ErrorIs(s.T(), err, ErrAlreadyExists)
}

func (s *InMemoryStoreSuite) TestFindByIDReturnsCopy() {
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("REG-1", models.PaymentMethodGateway, s.now)))

	got, err := s.store.FindByID(s.ctx, "REG-1")
	require.NoError(s.T(), err)
	*got.Payment.GatewayRef = "mutated"
	got.Status = models.RegistrationConfirmed

	again, err := s.store.FindByID(s.ctx, "REG-1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "snap-REG-1", *again.Payment.GatewayRef)
	assert.Equal(s.T(), models.RegistrationPending, again.Status)

	_, err = s.store.FindByID(s.ctx, "missing")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *InMemoryStoreSuite) TestTransitionPaymentOnlyFromPending() {
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("REG-1", models.PaymentMethodGateway, s.now)))
	txn := "txn-1"
	verified := s.now

	ok, err := s.store.TransitionPayment(s.ctx, "REG-1", PaymentTransition{
		Status:        models.RegistrationConfirmed,
		PaymentStatus: models.PaymentCompleted,
		TransactionID: &txn,
		VerifiedAt:    &verified,
	})
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)

	ok, err = s.store.TransitionPayment(s.ctx, "REG-1", PaymentTransition{
		Status:        models.RegistrationCancelled,
		PaymentStatus: models.PaymentFailed,
	})
	require.NoError(s.T(), err)
	assert.False(s.T(), ok, "terminal payment must not move")

	got, err := s.store.FindByID(s.ctx, "REG-1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentCompleted, got.Payment.Status)
	assert.Equal(s.T(), models.RegistrationConfirmed, got.Status)
	assert.Equal(s.T(), "txn-1", *got.Payment.GatewayTransactionID)
}

func (s *InMemoryStoreSuite) TestClaimNotificationOncePerAudience() {
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("REG-1", models.PaymentMethodCash, s.now)))

	ok, err := s.store.ClaimNotification(s.ctx, "REG-1", models.AudienceCustomer)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)

	ok, err = s.store.ClaimNotification(s.ctx, "REG-1", models.AudienceCustomer)
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)

	ok, err = s.store.ClaimNotification(s.ctx, "REG-1", models.AudienceAdmin)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)

	got, err := s.store.FindByID(s.ctx, "REG-1")
	require.NoError(s.T(), err)
	assert.True(s.T(), got.Notified.Customer)
	assert.True(s.T(), got.Notified.Admin)
}

func (s *InMemoryStoreSuite) TestPendingWindowBoundary() {
	cutoff := s.now.Add(-3 * time.Minute)
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("at-cutoff", models.PaymentMethodGateway, cutoff)))
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("stale", models.PaymentMethodGateway, cutoff.Add(-time.Millisecond))))
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("fresh", models.PaymentMethodGateway, s.now)))
	require.NoError(s.T(), s.store.Create(s.ctx, s.registration("old-cash", models.PaymentMethodCash, cutoff.Add(-time.Hour))))

	fresh, err := s.store.ListPendingGateway(s.ctx, cutoff)
	require.NoError(s.T(), err)
	require.Len(s.T(), fresh, 2)
	assert.Equal(s.T(), "at-cutoff", fresh[0].ID)
	assert.Equal(s.T(), "fresh", fresh[1].ID)

	n, err := s.store.ExpirePendingGateway(s.ctx, cutoff)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), n)

	stale, err := s.store.FindByID(s.ctx, "stale")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentExpired, stale.Payment.Status)
	assert.Equal(s.T(), models.RegistrationCancelled, stale.Status)

	cash, err := s.store.FindByID(s.ctx, "old-cash")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentPending, cash.Payment.Status)
}

func (s *InMemoryStoreSuite) TestListFiltersAndPaginates() {
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(s.T(), s.store.Create(s.ctx, s.registration(id, models.PaymentMethodGateway, s.now.Add(time.Duration(i)*time.Second))))
	}
	_, err := s.store.TransitionPayment(s.ctx, "b", PaymentTransition{
		Status:        models.RegistrationConfirmed,
		PaymentStatus: models.PaymentCompleted,
	})
	require.NoError(s.T(), err)

	page, total, err := s.store.List(s.ctx, ListFilter{Page: 1, Limit: 2})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), total)
	require.Len(s.T(), page, 2)
	assert.Equal(s.T(), "c", page[0].ID)

	confirmed, total, err := s.store.List(s.ctx, ListFilter{Status: models.RegistrationConfirmed})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), total)
	require.Len(s.T(), confirmed, 1)
	assert.Equal(s.T(), "b", confirmed[0].ID)

	empty, total, err := s.store.List(s.ctx, ListFilter{Page: 5, Limit: 2})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), total)
	assert.Empty(s.T(), empty)
}

func (s *InMemoryStoreSuite) TestAttemptsByRegistration() {
	require.NoError(s.T(), s.store.AppendAttempt(s.ctx, &models.NotificationAttempt{ID: "1", RegistrationID: "REG-1", Channel: "smtp_primary"}))
	require.NoError(s.T(), s.store.AppendAttempt(s.ctx, &models.NotificationAttempt{ID: "2", RegistrationID: "REG-2", Channel: "noop"}))
	require.NoError(s.T(), s.store.AppendAttempt(s.ctx, &models.NotificationAttempt{ID: "3", RegistrationID: "REG-1", Channel: "noop"}))

	got, err := s.store.ListAttempts(s.ctx, "REG-1")
	require.NoError(s.T(), err)
	require.Len(s.T(), got, 2)
	assert.Equal(s.T(), "smtp_primary", got[0].Channel)
	assert.Equal(s.T(), "noop", got[1].Channel)
	assert.Len(s.T(), s.store.Attempts(), 3)
}

func TestListFilterNormalized(t *testing.T) {
	f := ListFilter{Page: 0, Limit: 500}.normalized()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 100, f.Limit)

	f = ListFilter{}.normalized()
	assert.Equal(t, 20, f.Limit)
}
