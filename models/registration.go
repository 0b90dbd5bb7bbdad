// models/registration.go
package models

import (
	"time"
)

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway" // online checkout through the payment gateway
	PaymentMethodCash    PaymentMethod = "cash"    // collected at the ground
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentExpired   PaymentStatus = "expired"
)

// Terminal reports whether no further payment transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentExpired
}

// Audience identifies who a registration notification is addressed to.
type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceAdmin    Audience = "admin"
)

const (
	AgeGroupUnder19 = "Under 19"
	AgeGroupSenior  = "Senior Player"
)

// PlayerProfile is fixed at creation.
type PlayerProfile struct {
	FullName          string `json:"full_name" gorm:"type:varchar(50);not null" validate:"required,min=2,max=50"`
	Email             string `json:"email" gorm:"type:varchar(254);not null;index" validate:"required,email,max=254"`
	Phone             string `json:"phone" gorm:"type:varchar(16);not null;index" validate:"required,in_mobile"`
	AgeGroup          string `json:"age_group" gorm:"type:varchar(32);not null" validate:"required,oneof='Under 19' 'Senior Player'"`
	State             string `json:"state" gorm:"type:varchar(50);not null" validate:"required,max=50"`
	PlayingRole       string `json:"playing_role" gorm:"type:varchar(32);not null" validate:"required,oneof=Batsman Bowler 'All Rounder' 'Wicket Keeper' 'Wicket Keeper Batsman'"`
	BattingHandedness string `json:"batting_handedness" gorm:"type:varchar(32);not null" validate:"required,oneof='Right Handed' 'Left Handed'"`
	BowlingStyle      string `json:"bowling_style" gorm:"type:varchar(32);not null" validate:"required,oneof='Right Arm Fast' 'Right Arm Medium' 'Left Arm Fast' 'Left Arm Medium' 'Right Arm Spin' 'Left Arm Spin' 'Not Applicable'"`
	BattingOrder      string `json:"batting_order" gorm:"type:varchar(32);not null" validate:"required,oneof='Top Order' 'Middle Order' 'Lower Order'"`
}

// Payment is the payment sub-record of a registration.
type Payment struct {
	Method               PaymentMethod `json:"method" gorm:"type:varchar(16);not null;index"`
	Status               PaymentStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	GatewayRef           *string       `json:"gateway_ref,omitempty" gorm:"type:varchar(128)"`
	GatewayTransactionID *string       `json:"gateway_transaction_id,omitempty" gorm:"type:varchar(128)"`
	RedirectURL          *string       `json:"redirect_url,omitempty" gorm:"type:text"`
	VerifiedAt           *time.Time    `json:"verified_at,omitempty"`
	CheckCount           int           `json:"check_count" gorm:"not null;default:0"`
}

// NotificationState flags are write-once: a flag set to true is never reset.
type NotificationState struct {
	Customer bool `json:"customer" gorm:"not null;default:false"`
	Admin    bool `json:"admin" gorm:"not null;default:false"`
}

// Has reports whether the audience has already been claimed.
func (n NotificationState) Has(a Audience) bool {
	switch a {
	case AudienceCustomer:
		return n.Customer
	case AudienceAdmin:
		return n.Admin
	}
	return false
}

// Registration is one player's entry into the league tied to one payment.
type Registration struct {
	ID       string             `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Player   PlayerProfile      `json:"player" gorm:"embedded;embeddedPrefix:player_"`
	League   string             `json:"league" gorm:"type:varchar(128)"`
	Season   string             `json:"season" gorm:"type:varchar(16)"`
	Amount   int64              `json:"amount" gorm:"not null"`
	Status   RegistrationStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	Payment  Payment            `json:"payment" gorm:"embedded;embeddedPrefix:payment_"`
	Notified NotificationState  `json:"notified" gorm:"embedded;embeddedPrefix:notified_"`

	Notes      string `json:"notes,omitempty" gorm:"type:text"`
	AdminNotes string `json:"admin_notes,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicRegistration is the projection returned to players.
type PublicRegistration struct {
	ID            string             `json:"id"`
	PlayerName    string             `json:"player_name"`
	AgeGroup      string             `json:"age_group"`
	PlayingRole   string             `json:"playing_role"`
	League        string             `json:"league"`
	Season        string             `json:"season"`
	Amount        int64              `json:"amount"`
	Status        RegistrationStatus `json:"status"`
	PaymentMethod PaymentMethod      `json:"payment_method"`
	PaymentStatus PaymentStatus      `json:"payment_status"`
	RedirectURL   *string            `json:"redirect_url,omitempty"`
	VerifiedAt    *time.Time         `json:"verified_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Public strips admin notes, contact details and gateway internals.
func (r *Registration) Public() PublicRegistration {
	out := PublicRegistration{
		ID:            r.ID,
		PlayerName:    r.Player.FullName,
		AgeGroup:      r.Player.AgeGroup,
		PlayingRole:   r.Player.PlayingRole,
		League:        r.League,
		Season:        r.Season,
		Amount:        r.Amount,
		Status:        r.Status,
		PaymentMethod: r.Payment.Method,
		PaymentStatus: r.Payment.Status,
		VerifiedAt:    r.Payment.VerifiedAt,
		CreatedAt:     r.CreatedAt,
	}
	// A redirect is only useful while the player can still pay.
	if r.Payment.Status == PaymentPending {
		out.RedirectURL = r.Payment.RedirectURL
	}
	return out
}
