package models

import "time"

// AuditEntry is one row of the reservation journal.
type AuditEntry struct {
	ID            int64     `json:"id"`
	EventType     string    `json:"event_type"`
	ReservationID string    `json:"reservation_id"`
	FiscalCode    string    `json:"fiscal_code"`
	HealthCard    string    `json:"health_card"`
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}
