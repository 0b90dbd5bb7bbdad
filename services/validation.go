// services/validation.go
package services

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"league-registration-system/models"

	"github.com/go-playground/validator/v10"
)

var indianMobile = regexp.MustCompile(`^[6-9]\d{9}$`)

// RegisterRequest is the intake payload.
type RegisterRequest struct {
	Player        models.PlayerProfile `json:"player" validate:"required"`
	PaymentMethod models.PaymentMethod `json:"payment_method" validate:"required,oneof=gateway cash"`
	Notes         string               `json:"notes" validate:"max=500"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when intake input is rejected.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("in_mobile", func(fl validator.FieldLevel) bool {
		return indianMobile.MatchString(fl.Field().String())
	})
	return v
}

// normalizeRequest trims input and strips a leading +91 or 0 from the phone.
func normalizeRequest(req RegisterRequest) RegisterRequest {
	p := &req.Player
	p.FullName = strings.Join(strings.Fields(p.FullName), " ")
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	phone := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(p.Phone))
	phone = strings.TrimPrefix(phone, "+91")
	if len(phone) == 11 && strings.HasPrefix(phone, "0") {
		phone = phone[1:]
	}
	p.Phone = phone
	p.AgeGroup = strings.TrimSpace(p.AgeGroup)
	p.State = strings.TrimSpace(p.State)
	p.PlayingRole = strings.TrimSpace(p.PlayingRole)
	p.BattingHandedness = strings.TrimSpace(p.BattingHandedness)
	p.BowlingStyle = strings.TrimSpace(p.BowlingStyle)
	p.BattingOrder = strings.TrimSpace(p.BattingOrder)
	req.Notes = strings.TrimSpace(req.Notes)
	req.PaymentMethod = models.PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.PaymentMethod))))
	return req
}

func validateRequest(v *validator.Validate, req RegisterRequest) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Message: fieldMessage(fe)})
	}
	return out
}

// fieldPath drops the root struct name: "RegisterRequest.player.email" becomes "player.email".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "in_mobile":
		return "must be a 10 digit Indian mobile number starting with 6-9"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), "'", "")
	}
	return "is invalid"
}
