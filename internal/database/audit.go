package database

import (
	"context"
	"fmt"
	"time"

	"labbooking/internal/events"
	"labbooking/internal/models"
)

// AppendAudit stores entry and fills in its ID.
func (db *DB) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	result, err := db.db.ExecContext(ctx, `
        INSERT INTO reservation_audit (event_type, reservation_id, fiscal_code, health_card, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		entry.EventType,
		entry.ReservationID,
		entry.FiscalCode,
		entry.HealthCard,
		entry.Payload,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// GetAuditTrail returns the journal of one reservation, oldest first.
// A reservation that was never journaled yields an empty slice.
func (db *DB) GetAuditTrail(ctx context.Context, reservationID string) ([]*models.AuditEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, event_type, reservation_id, fiscal_code, health_card, payload, created_at
        FROM reservation_audit
        WHERE reservation_id = ?
        ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.ReservationID, &e.FiscalCode, &e.HealthCard, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.Local()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SubscribeAudit journals every reservation event published on bus.
func (db *DB) SubscribeAudit(bus *events.EventBus) {
	for _, eventType := range events.ReservationEventTypes {
		bus.Subscribe(eventType, db.handleEvent)
	}
}

func (db *DB) handleEvent(event *events.Event) error {
	entry, err := EntryFromEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.AppendAudit(ctx, entry)
}

// EntryFromEvent builds the journal row of a reservation event.
func EntryFromEvent(event *events.Event) (*models.AuditEntry, error) {
	payload, err := events.DecodeReservation(event)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return &models.AuditEntry{
		EventType:     event.Type,
		ReservationID: payload.ReservationID,
		FiscalCode:    payload.FiscalCode,
		HealthCard:    payload.HealthCard,
		Payload:       string(event.Payload),
		CreatedAt:     event.CreatedAt,
	}, nil
}
