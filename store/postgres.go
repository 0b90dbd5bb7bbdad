// store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"league-registration-system/models"

	"gorm.io/gorm"
)

// Postgres is the gorm-backed store used in production.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, reg *models.Registration) error {
	err := s.db.WithContext(ctx).Create(reg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("registration %s: %w", reg.ID, ErrAlreadyExists)
	}
	return err
}

func (s *Postgres) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&reg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// TransitionPayment writes t only while the payment is still pending, so a
// terminal payment status can never be overwritten. It reports whether the
// row changed.
func (s *Postgres) TransitionPayment(ctx context.Context, id string, t PaymentTransition) (bool, error) {
	updates := map[string]any{
		"status":         t.Status,
		"payment_status": t.PaymentStatus,
		"updated_at":     time.Now(),
	}
	if t.TransactionID != nil {
		updates["payment_gateway_transaction_id"] = *t.TransactionID
	}
	if t.VerifiedAt != nil {
		updates["payment_verified_at"] = *t.VerifiedAt
	}

	res := s.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND payment_status = ?", id, models.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Postgres) IncrementCheckCount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ?", id).
		UpdateColumn("payment_check_count", gorm.Expr("payment_check_count + 1")).Error
}

// ClaimNotification flips the audience flag from false to true. Only the
// caller that performed the flip gets true back.
func (s *Postgres) ClaimNotification(ctx context.Context, id string, audience models.Audience) (bool, error) {
	column, err := notifiedColumn(audience)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND "+column+" = ?", id, false).
		UpdateColumn(column, true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Postgres) ListPendingGateway(ctx context.Context, since time.Time) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("payment_method = ? AND payment_status = ? AND created_at >= ?",
			models.PaymentMethodGateway, models.PaymentPending, since).
		Order("created_at asc").
		Find(&regs).Error
	return regs, err
}

func (s *Postgres) ExpirePendingGateway(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("payment_method = ? AND payment_status = ? AND created_at < ?",
			models.PaymentMethodGateway, models.PaymentPending, before).
		Updates(map[string]any{
			"payment_status": models.PaymentExpired,
			"status":         models.RegistrationCancelled,
			"updated_at":     time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (s *Postgres) List(ctx context.Context, f ListFilter) ([]models.Registration, int64, error) {
	f = f.normalized()
	q := s.db.WithContext(ctx).Model(&models.Registration{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var regs []models.Registration
	err := q.Session(&gorm.Session{}).Order("created_at desc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&regs).Error
	return regs, total, err
}

func (s *Postgres) AppendAttempt(ctx context.Context, a *models.NotificationAttempt) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *Postgres) ListAttempts(ctx context.Context, registrationID string) ([]models.NotificationAttempt, error) {
	var attempts []models.NotificationAttempt
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Order("created_at asc").
		Find(&attempts).Error
	return attempts, err
}

func notifiedColumn(a models.Audience) (string, error) {
	switch a {
	case models.AudienceCustomer:
		return "notified_customer", nil
	case models.AudienceAdmin:
		return "notified_admin", nil
	}
	return "", fmt.Errorf("unknown audience %q", a)
}
