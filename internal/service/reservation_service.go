package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"labbooking/internal/domain"
	"labbooking/internal/events"
	"labbooking/internal/metrics"
	"labbooking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ReservationService struct {
	store    domain.ReservationStore
	eventBus domain.EventPublisher
	catalog  *models.Catalog
	locks    *keyedMutex
	now      func() time.Time
	newID    func() (string, error)
	logger   *zerolog.Logger
}

func NewReservationService(store domain.ReservationStore, eventBus domain.EventPublisher, catalog *models.Catalog, logger *zerolog.Logger) *ReservationService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReservationService{
		store:    store,
		eventBus: eventBus,
		catalog:  catalog,
		locks:    newKeyedMutex(),
		now:      time.Now,
		newID:    newReservationID,
		logger:   logger,
	}
}

// newReservationID returns a time-ordered UUIDv7.
func newReservationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *ReservationService) Catalog() *models.Catalog {
	return s.catalog
}

func (s *ReservationService) GetReservation(ctx context.Context, id, fiscalCode, healthCard string) (r *models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.get")
	defer observe(span, "get", &err)

	key, err := models.NewKey(id, fiscalCode, healthCard)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.decode(key, stored)
}

// decode turns a stored record back into an entity. A record whose content
// disagrees with its file name is reported as missing.
func (s *ReservationService) decode(key models.Key, stored *models.StoredRecord) (*models.Reservation, error) {
	if !key.Matches(stored.Record) {
		s.logger.Warn().Str("path", stored.Locator).Str("key", key.String()).Msg("record content does not match its key")
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	r, err := models.FromRecord(stored.Record)
	if err != nil {
		return nil, &models.StorageError{Op: "decode", Path: stored.Locator, Err: err}
	}
	return r, nil
}

// ListReservations returns every reservation of one patient. Records that no
// longer validate are skipped and logged.
func (s *ReservationService) ListReservations(ctx context.Context, fiscalCode, healthCard string) (list []*models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.list")
	defer observe(span, "list", &err)

	filter, err := models.NewFilter(fiscalCode, healthCard)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	list = make([]*models.Reservation, 0, len(stored))
	for i := range stored {
		key := models.Key{ID: stored[i].Record.ID, FiscalCode: filter.FiscalCode, HealthCard: filter.HealthCard}
		r, err := s.decode(key, &stored[i])
		if err != nil {
			s.logger.Warn().Err(err).Str("path", stored[i].Locator).Msg("skipping record")
			continue
		}
		list = append(list, r)
	}
	return list, nil
}

// AddReservation stores candidate under a fresh id. The candidate itself is
// not modified; the stored reservation is returned.
func (s *ReservationService) AddReservation(ctx context.Context, candidate *models.Reservation) (r *models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.add")
	defer observe(span, "add", &err)

	if candidate == nil {
		return nil, &models.ValidationError{Field: "reservation", Reason: "is required"}
	}
	r = candidate.Clone()
	now := s.now().Truncate(time.Second)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateScheduleWindow(r.ScheduledAt(), now); err != nil {
		return nil, err
	}
	if err := s.catalog.Check(r.Lab(), r.Exams()); err != nil {
		return nil, err
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	if err := r.SetID(id); err != nil {
		return nil, err
	}
	r.SetInsertedAt(now)
	r.SetModifiedAt(time.Time{})

	key := r.Key()
	unlock := s.locks.Lock(s.store.Locate(key))
	defer unlock()

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", models.ErrDuplicate, key)
	}

	locator, err := s.store.Write(ctx, key, r.ToRecord())
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("reservation_id", id).Str("lab", r.Lab()).Msg("reservation created")
	s.publishEvent(events.EventReservationCreated, r, locator)
	return r, nil
}

// UpdateReservation replaces the mutable fields of an existing reservation.
func (s *ReservationService) UpdateReservation(ctx context.Context, patch *models.ReservationPatch) (r *models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.update")
	defer observe(span, "update", &err)

	if patch == nil {
		return nil, &models.ValidationError{Field: "reservation", Reason: "is required"}
	}
	key, err := models.NewKey(patch.Key.ID, patch.Key.FiscalCode, patch.Key.HealthCard)
	if err != nil {
		return nil, err
	}
	now := s.now().Truncate(time.Second)

	if err := models.ValidateScheduleWindow(patch.ScheduledAt, now); err != nil {
		return nil, err
	}
	if err := s.catalog.Check(patch.Lab, patch.Exams); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(s.store.Locate(key))
	defer unlock()

	stored, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err = s.decode(key, stored)
	if err != nil {
		return nil, err
	}

	if err := patch.Apply(r); err != nil {
		return nil, err
	}
	r.SetModifiedAt(now)
	if err := r.Validate(); err != nil {
		return nil, err
	}

	locator, err := s.store.Write(ctx, key, r.ToRecord())
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("reservation_id", r.ID()).Msg("reservation updated")
	s.publishEvent(events.EventReservationUpdated, r, locator)
	return r, nil
}

func (s *ReservationService) DeleteReservation(ctx context.Context, id, fiscalCode, healthCard string) (err error) {
	ctx, span := tracer.Start(ctx, "reservation.delete")
	defer observe(span, "delete", &err)

	key, err := models.NewKey(id, fiscalCode, healthCard)
	if err != nil {
		return err
	}

	locator := s.store.Locate(key)
	unlock := s.locks.Lock(locator)
	defer unlock()

	removed, err := s.store.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}

	s.logger.Info().Str("reservation_id", key.ID).Msg("reservation deleted")
	if s.eventBus != nil {
		payload := events.ReservationEventPayload{
			ReservationID: key.ID,
			FiscalCode:    key.FiscalCode,
			HealthCard:    key.HealthCard,
			Locator:       locator,
		}
		if err := s.eventBus.PublishJSON(events.EventReservationDeleted, payload); err != nil {
			s.logger.Error().Err(err).Str("event_type", events.EventReservationDeleted).Str("reservation_id", key.ID).Msg("publish event error")
		}
	}
	return nil
}

// ListForExport scans every stored reservation and returns those matching
// filter, ordered by booking time.
func (s *ReservationService) ListForExport(ctx context.Context, filter models.ExportFilter) (list []*models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.export")
	defer observe(span, "export", &err)

	stored, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	list = make([]*models.Reservation, 0)
	for i := range stored {
		r, err := models.FromRecord(stored[i].Record)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", stored[i].Locator).Msg("skipping record")
			continue
		}
		if filter.Matches(r) {
			list = append(list, r)
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].ScheduledAt(), list[j].ScheduledAt()
		if a.Equal(b) {
			return list[i].ID() < list[j].ID()
		}
		return a.Before(b)
	})
	return list, nil
}

func (s *ReservationService) publishEvent(eventType string, r *models.Reservation, locator string) {
	if s.eventBus == nil {
		return
	}

	payload := events.ReservationEventPayload{
		ReservationID: r.ID(),
		FiscalCode:    r.FiscalCode(),
		HealthCard:    r.HealthCard(),
		Email:         r.Email(),
		Lab:           r.Lab(),
		ScheduledAt:   r.ScheduledAt().Format(models.TimeLayout),
		Exams:         r.Exams(),
		Locator:       locator,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reservation_id", r.ID()).Msg("publish event error")
	}
}

var tracer = otel.Tracer("labbooking/internal/service")

// observe counts the operation and ends its span.
func observe(span trace.Span, op string, errp *error) {
	result := outcome(*errp)
	metrics.ObserveReservation(op, result)

	span.SetAttributes(attribute.String("reservation.outcome", result))
	if result == metrics.OutcomeError {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, "operation failed")
	}
	span.End()
}

func outcome(err error) string {
	var se *models.StorageError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &se):
		return metrics.OutcomeError
	case models.IsValidation(err):
		return metrics.OutcomeInvalid
	case errors.Is(err, models.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, models.ErrDuplicate):
		return metrics.OutcomeDuplicate
	default:
		return metrics.OutcomeError
	}
}
