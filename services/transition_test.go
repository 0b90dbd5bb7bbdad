package services

import (
	"testing"
	"time"

	"league-registration-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingGateway() models.Registration {
	return models.Registration{
		ID:      "REG-1",
		Status:  models.RegistrationPending,
		Payment: models.Payment{Method: models.PaymentMethodGateway, Status: models.PaymentPending},
	}
}

func TestApplyCompleted(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	next, changed := ApplyPaymentResult(pendingGateway(), GatewayStatus{State: GatewayCompleted, TransactionID: "txn-1"}, now)

	require.True(t, changed)
	assert.Equal(t, models.RegistrationConfirmed, next.Status)
	assert.Equal(t, models.PaymentCompleted, next.Payment.Status)
	require.NotNil(t, next.Payment.VerifiedAt)
	assert.Equal(t, now, *next.Payment.VerifiedAt)
	require.NotNil(t, next.Payment.GatewayTransactionID)
	assert.Equal(t, "txn-1", *next.Payment.GatewayTransactionID)
}

func TestApplyFailed(t *testing.T) {
	next, changed := ApplyPaymentResult(pendingGateway(), GatewayStatus{State: GatewayFailed}, time.Now())

	require.True(t, changed)
	assert.Equal(t, models.RegistrationCancelled, next.Status)
	assert.Equal(t, models.PaymentFailed, next.Payment.Status)
	assert.Nil(t, next.Payment.VerifiedAt)
	assert.Nil(t, next.Payment.GatewayTransactionID)
}

func TestApplyPendingIsNoop(t *testing.T) {
	reg := pendingGateway()
	next, changed := ApplyPaymentResult(reg, GatewayStatus{State: GatewayPending}, time.Now())
	assert.False(t, changed)
	assert.Equal(t, reg, next)
}

func TestApplyIsIdempotent(t *testing.T) {
	now := time.Now()
	once, changed := ApplyPaymentResult(pendingGateway(), GatewayStatus{State: GatewayCompleted}, now)
	require.True(t, changed)

	twice, changed := ApplyPaymentResult(once, GatewayStatus{State: GatewayCompleted}, now.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestApplyNeverLeavesTerminalStatus(t *testing.T) {
	for _, terminal := range []models.PaymentStatus{models.PaymentCompleted, models.PaymentFailed, models.PaymentExpired} {
		reg := pendingGateway()
		reg.Payment.Status = terminal
		for _, state := range []GatewayState{GatewayCompleted, GatewayFailed, GatewayPending} {
			next, changed := ApplyPaymentResult(reg, GatewayStatus{State: state}, time.Now())
			assert.False(t, changed, "%s -> %s", terminal, state)
			assert.Equal(t, terminal, next.Payment.Status)
		}
	}
}

func TestApplyIgnoresCashPayments(t *testing.T) {
	reg := pendingGateway()
	reg.Payment.Method = models.PaymentMethodCash
	reg.Status = models.RegistrationConfirmed

	next, changed := ApplyPaymentResult(reg, GatewayStatus{State: GatewayFailed}, time.Now())
	assert.False(t, changed)
	assert.Equal(t, models.RegistrationConfirmed, next.Status)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	reg := pendingGateway()
	_, _ = ApplyPaymentResult(reg, GatewayStatus{State: GatewayCompleted, TransactionID: "t"}, time.Now())
	assert.Equal(t, models.PaymentPending, reg.Payment.Status)
	assert.Nil(t, reg.Payment.VerifiedAt)
}
