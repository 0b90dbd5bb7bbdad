// store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"league-registration-system/models"
)

// InMemory mirrors Postgres semantics, including the conditional writes.
type InMemory struct {
	mu            sync.Mutex
	registrations map[string]models.Registration
	attempts      []models.NotificationAttempt
}

func NewInMemory() *InMemory {
	return &InMemory{registrations: make(map[string]models.Registration)}
}

func (s *InMemory) Create(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[reg.ID]; ok {
		return fmt.Errorf("registration %s: %w", reg.ID, ErrAlreadyExists)
	}
	now := time.Now()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	if reg.UpdatedAt.IsZero() {
		reg.UpdatedAt = reg.CreatedAt
	}
	s.registrations[reg.ID] = cloneRegistration(*reg)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRegistration(reg)
	return &out, nil
}

func (s *InMemory) TransitionPayment(_ context.Context, id string, t PaymentTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Payment.Status != models.PaymentPending {
		return false, nil
	}
	reg.Status = t.Status
	reg.Payment.Status = t.PaymentStatus
	if t.TransactionID != nil {
		reg.Payment.GatewayTransactionID = cloneString(t.TransactionID)
	}
	if t.VerifiedAt != nil {
		v := *t.VerifiedAt
		reg.Payment.VerifiedAt = &v
	}
	reg.UpdatedAt = time.Now()
	s.registrations[id] = reg
	return true, nil
}

func (s *InMemory) IncrementCheckCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.registrations[id]; ok {
		reg.Payment.CheckCount++
		s.registrations[id] = reg
	}
	return nil
}

func (s *InMemory) ClaimNotification(_ context.Context, id string, audience models.Audience) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return false, nil
	}
	switch audience {
	case models.AudienceCustomer:
		if reg.Notified.Customer {
			return false, nil
		}
		reg.Notified.Customer = true
	case models.AudienceAdmin:
		if reg.Notified.Admin {
			return false, nil
		}
		reg.Notified.Admin = true
	default:
		return false, fmt.Errorf("unknown audience %q", audience)
	}
	s.registrations[id] = reg
	return true, nil
}

func (s *InMemory) ListPendingGateway(_ context.Context, since time.Time) ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Registration
	for _, reg := range s.registrations {
		if isPendingGateway(reg) && !reg.CreatedAt.Before(since) {
			out = append(out, cloneRegistration(reg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) ExpirePendingGateway(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, reg := range s.registrations {
		if isPendingGateway(reg) && reg.CreatedAt.Before(before) {
			reg.Payment.Status = models.PaymentExpired
			reg.Status = models.RegistrationCancelled
			reg.UpdatedAt = time.Now()
			s.registrations[id] = reg
			n++
		}
	}
	return n, nil
}

func (s *InMemory) List(_ context.Context, f ListFilter) ([]models.Registration, int64, error) {
	f = f.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Registration
	for _, reg := range s.registrations {
		if f.Status != "" && reg.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && reg.Payment.Status != f.PaymentStatus {
			continue
		}
		matched = append(matched, cloneRegistration(reg))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := min(start+f.Limit, len(matched))
	return matched[start:end], total, nil
}

func (s *InMemory) AppendAttempt(_ context.Context, a *models.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *InMemory) ListAttempts(_ context.Context, registrationID string) ([]models.NotificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationAttempt
	for _, a := range s.attempts {
		if a.RegistrationID == registrationID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Attempts returns every logged attempt in append order.
func (s *InMemory) Attempts() []models.NotificationAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NotificationAttempt(nil), s.attempts...)
}

func isPendingGateway(reg models.Registration) bool {
	return reg.Payment.Method == models.PaymentMethodGateway && reg.Payment.Status == models.PaymentPending
}
