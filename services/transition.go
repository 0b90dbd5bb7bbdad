// services/transition.go
package services

import (
	"time"

	"league-registration-system/models"
)

// ApplyPaymentResult computes the registration that follows from a gateway
// status. It does not mutate reg. Pending statuses and registrations whose
// payment is already terminal yield (reg, false), so applying the same
// result twice is a no-op. Cash payments are never settled by the gateway.
func ApplyPaymentResult(reg models.Registration, status GatewayStatus, now time.Time) (models.Registration, bool) {
	if reg.Payment.Method != models.PaymentMethodGateway || reg.Payment.Status.Terminal() {
		return reg, false
	}

	next := reg
	switch status.State {
	case GatewayCompleted:
		verified := now
		next.Status = models.RegistrationConfirmed
		next.Payment.Status = models.PaymentCompleted
		next.Payment.VerifiedAt = &verified
		if status.TransactionID != "" {
			id := status.TransactionID
			next.Payment.GatewayTransactionID = &id
		}
	case GatewayFailed:
		next.Status = models.RegistrationCancelled
		next.Payment.Status = models.PaymentFailed
		if status.TransactionID != "" {
			id := status.TransactionID
			next.Payment.GatewayTransactionID = &id
		}
	default:
		return reg, false
	}
	return next, true
}
