package domain

import (
	"context"
	"time"

	"labbooking/internal/models"
)

// ReservationStore persists reservation records addressed by models.Key.
type ReservationStore interface {
	ListAll(ctx context.Context) ([]models.StoredRecord, error)
	List(ctx context.Context, filter models.Filter) ([]models.StoredRecord, error)
	Read(ctx context.Context, key models.Key) (*models.StoredRecord, error)
	Exists(ctx context.Context, key models.Key) (bool, error)
	Write(ctx context.Context, key models.Key, rec models.Record) (string, error)
	Delete(ctx context.Context, key models.Key) (bool, error)
	Locate(key models.Key) string
	Ping(ctx context.Context) error
}

type RateLimitRepository interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	GetAuditTrail(ctx context.Context, reservationID string) ([]*models.AuditEntry, error)
}

type ReservationService interface {
	GetReservation(ctx context.Context, id, fiscalCode, healthCard string) (*models.Reservation, error)
	ListReservations(ctx context.Context, fiscalCode, healthCard string) ([]*models.Reservation, error)
	AddReservation(ctx context.Context, candidate *models.Reservation) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, patch *models.ReservationPatch) (*models.Reservation, error)
	DeleteReservation(ctx context.Context, id, fiscalCode, healthCard string) error
	ListForExport(ctx context.Context, filter models.ExportFilter) ([]*models.Reservation, error)
	Catalog() *models.Catalog
}
