// Package store persists registrations and the notification attempt log.
package store

import (
	"errors"
	"time"

	"league-registration-system/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// PaymentTransition is the set of columns a payment transition writes.
type PaymentTransition struct {
	Status        models.RegistrationStatus
	PaymentStatus models.PaymentStatus
	TransactionID *string
	VerifiedAt    *time.Time
}

// ListFilter narrows admin listings. Zero values mean "any".
type ListFilter struct {
	Status        models.RegistrationStatus
	PaymentStatus models.PaymentStatus
	Page          int
	Limit         int
}

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

// AutoMigrate creates or updates the tables owned by this package.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Registration{},
		&models.NotificationAttempt{},
	)
}

func cloneRegistration(r models.Registration) models.Registration {
	r.Payment.GatewayRef = cloneString(r.Payment.GatewayRef)
	r.Payment.GatewayTransactionID = cloneString(r.Payment.GatewayTransactionID)
	r.Payment.RedirectURL = cloneString(r.Payment.RedirectURL)
	if r.Payment.VerifiedAt != nil {
		t := *r.Payment.VerifiedAt
		r.Payment.VerifiedAt = &t
	}
	return r
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
