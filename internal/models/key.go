package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key addresses a single reservation: (fiscal code, health card, id).
type Key struct {
	ID         string
	FiscalCode string
	HealthCard string
}

// Filter selects every reservation of one patient.
type Filter struct {
	FiscalCode string
	HealthCard string
}

// NewKey normalizes and validates identity strings coming from outside.
func NewKey(id, fiscalCode, healthCard string) (Key, error) {
	f, err := NewFilter(fiscalCode, healthCard)
	if err != nil {
		return Key{}, err
	}
	id = strings.TrimSpace(id)
	if err := validateID(id); err != nil {
		return Key{}, err
	}
	return Key{ID: id, FiscalCode: f.FiscalCode, HealthCard: f.HealthCard}, nil
}

func NewFilter(fiscalCode, healthCard string) (Filter, error) {
	fiscalCode = strings.ToUpper(strings.TrimSpace(fiscalCode))
	healthCard = strings.TrimSpace(healthCard)
	if err := ValidateFiscalCode(fiscalCode); err != nil {
		return Filter{}, err
	}
	if err := ValidateHealthCard(healthCard); err != nil {
		return Filter{}, err
	}
	return Filter{FiscalCode: fiscalCode, HealthCard: healthCard}, nil
}

// Filter returns the patient part of the key.
func (k Key) Filter() Filter {
	return Filter{FiscalCode: k.FiscalCode, HealthCard: k.HealthCard}
}

func (k Key) String() string {
	return k.FiscalCode + "/" + k.HealthCard + "/" + k.ID
}

// Matches reports whether the record carries exactly this key.
func (k Key) Matches(rec Record) bool {
	return rec.ID == k.ID &&
		strings.EqualFold(rec.FiscalCode, k.FiscalCode) &&
		rec.HealthCard == k.HealthCard
}

func validateID(id string) error {
	if id == "" {
		return invalid(FieldID, "is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid(FieldID, "must be a UUID")
	}
	return nil
}

// StoredRecord is a record as found in the store, with its backing location.
type StoredRecord struct {
	Locator string
	Record  Record
}

// ReservationPatch carries the identity of an existing reservation and the
// new values of its mutable fields.
type ReservationPatch struct {
	Key         Key
	Email       string
	ScheduledAt time.Time
	Lab         string
	Exams       []string
}

// PatchFromRecord validates the identity and mutable fields of rec.
// Name and timestamp fields are ignored since update never changes them.
func PatchFromRecord(rec Record) (*ReservationPatch, error) {
	key, err := NewKey(rec.ID, rec.FiscalCode, rec.HealthCard)
	if err != nil {
		return nil, err
	}

	var probe Reservation
	if err := probe.SetEmail(rec.Email); err != nil {
		return nil, err
	}
	scheduled, err := ParseTimestamp(FieldScheduledAt, rec.ScheduledAt)
	if err != nil {
		return nil, err
	}
	if err := probe.SetScheduledAt(scheduled); err != nil {
		return nil, err
	}
	if err := probe.SetLab(rec.Lab); err != nil {
		return nil, err
	}
	if err := probe.SetExams(rec.Exams); err != nil {
		return nil, err
	}

	return &ReservationPatch{
		Key:         key,
		Email:       probe.email,
		ScheduledAt: probe.scheduledAt,
		Lab:         probe.lab,
		Exams:       probe.exams,
	}, nil
}

// Apply copies the mutable fields of p onto r through the setters.
func (p *ReservationPatch) Apply(r *Reservation) error {
	if err := r.SetEmail(p.Email); err != nil {
		return err
	}
	if err := r.SetScheduledAt(p.ScheduledAt); err != nil {
		return err
	}
	if err := r.SetLab(p.Lab); err != nil {
		return err
	}
	return r.SetExams(p.Exams)
}

// ExportFilter selects the reservations of a lab booked in [From, To).
// Zero bounds are open; an empty Lab matches every lab.
type ExportFilter struct {
	Lab  string
	From time.Time
	To   time.Time
}

func (f ExportFilter) Matches(r *Reservation) bool {
	if f.Lab != "" && !strings.EqualFold(f.Lab, r.Lab()) {
		return false
	}
	if !f.From.IsZero() && r.ScheduledAt().Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.ScheduledAt().Before(f.To) {
		return false
	}
	return true
}
