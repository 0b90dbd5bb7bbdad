// models/notification_attempt.go
package models

import "time"

// NotificationAttempt is one delivery try on one channel. Rows are append-only.
type NotificationAttempt struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid"`
	JobID          string    `json:"job_id" gorm:"type:uuid;not null;index"`
	JobType        string    `json:"job_type" gorm:"type:varchar(64);not null"`
	RegistrationID string    `json:"registration_id" gorm:"type:varchar(64);index"`
	Channel        string    `json:"channel" gorm:"type:varchar(32);not null"`
	Recipients     string    `json:"recipients" gorm:"type:text"`
	Subject        string    `json:"subject" gorm:"type:text"`
	Attempt        int       `json:"attempt" gorm:"not null"`
	Success        bool      `json:"success" gorm:"not null"`
	MessageID      string    `json:"message_id,omitempty" gorm:"type:text"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;index"`
}
