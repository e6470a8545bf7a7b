package models

import (
	"strings"
	"time"
)

// Reservation is one lab booking. Fields are only assignable through
// setters, which reject invalid values and leave the previous value intact.
type Reservation struct {
	id          string
	firstName   string
	lastName    string
	email       string
	insertedAt  time.Time
	modifiedAt  time.Time
	scheduledAt time.Time
	fiscalCode  string
	healthCard  string
	lab         string
	exams       []string
}

// Record is the flat serialized form of a Reservation, used on disk and on the wire.
type Record struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"nome"`
	LastName    string   `json:"cognome"`
	Email       string   `json:"email"`
	InsertedAt  string   `json:"dataOraInserimento"`
	ModifiedAt  string   `json:"dataOraModifica"`
	ScheduledAt string   `json:"dataOraPrenotazione"`
	FiscalCode  string   `json:"cf"`
	HealthCard  string   `json:"ts"`
	Lab         string   `json:"laboratorio"`
	Exams       []string `json:"listaEsami"`
}

func (r *Reservation) ID() string             { return r.id }
func (r *Reservation) FirstName() string      { return r.firstName }
func (r *Reservation) LastName() string       { return r.lastName }
func (r *Reservation) Email() string          { return r.email }
func (r *Reservation) InsertedAt() time.Time  { return r.insertedAt }
func (r *Reservation) ModifiedAt() time.Time  { return r.modifiedAt }
func (r *Reservation) ScheduledAt() time.Time { return r.scheduledAt }
func (r *Reservation) FiscalCode() string     { return r.fiscalCode }
func (r *Reservation) HealthCard() string     { return r.healthCard }
func (r *Reservation) Lab() string            { return r.lab }

func (r *Reservation) Exams() []string {
	return append([]string(nil), r.exams...)
}

// Key returns the composite key addressing this reservation.
func (r *Reservation) Key() Key {
	return Key{ID: r.id, FiscalCode: r.fiscalCode, HealthCard: r.healthCard}
}

// SetID is used by the service when assigning a new id and by FromRecord.
func (r *Reservation) SetID(id string) error {
	id = strings.TrimSpace(id)
	if err := validateID(id); err != nil {
		return err
	}
	r.id = id
	return nil
}

func (r *Reservation) SetFirstName(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return invalid(FieldFirstName, "is required")
	}
	r.firstName = v
	return nil
}

func (r *Reservation) SetLastName(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return invalid(FieldLastName, "is required")
	}
	r.lastName = v
	return nil
}

func (r *Reservation) SetEmail(v string) error {
	v = strings.TrimSpace(v)
	if err := ValidateEmail(v); err != nil {
		return err
	}
	r.email = v
	return nil
}

func (r *Reservation) SetInsertedAt(t time.Time) {
	r.insertedAt = t
}

func (r *Reservation) SetModifiedAt(t time.Time) {
	r.modifiedAt = t
}

// SetScheduledAt enforces the weekday and office-hours rules. Whether the
// date is far enough in the future depends on the clock and is checked by
// the service when a booking is created or moved.
func (r *Reservation) SetScheduledAt(t time.Time) error {
	if t.IsZero() {
		return invalid(FieldScheduledAt, "is required")
	}
	if err := validateWeeklySlot(t); err != nil {
		return err
	}
	r.scheduledAt = t
	return nil
}

func (r *Reservation) SetFiscalCode(v string) error {
	v = strings.TrimSpace(v)
	if err := ValidateFiscalCode(v); err != nil {
		return err
	}
	r.fiscalCode = strings.ToUpper(v)
	return nil
}

func (r *Reservation) SetHealthCard(v string) error {
	v = strings.TrimSpace(v)
	if err := ValidateHealthCard(v); err != nil {
		return err
	}
	r.healthCard = v
	return nil
}

func (r *Reservation) SetLab(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return invalid(FieldLab, "is required")
	}
	r.lab = v
	return nil
}

func (r *Reservation) SetExams(exams []string) error {
	cleaned, err := cleanExams(exams)
	if err != nil {
		return err
	}
	r.exams = cleaned
	return nil
}

// Validate reports the first required field that has not been set.
// The id and timestamps are server-assigned and not checked here.
func (r *Reservation) Validate() error {
	switch {
	case r.firstName == "":
		return invalid(FieldFirstName, "is required")
	case r.lastName == "":
		return invalid(FieldLastName, "is required")
	case r.email == "":
		return invalid(FieldEmail, "is required")
	case r.scheduledAt.IsZero():
		return invalid(FieldScheduledAt, "is required")
	case r.fiscalCode == "":
		return invalid(FieldFiscalCode, "is required")
	case r.healthCard == "":
		return invalid(FieldHealthCard, "is required")
	case r.lab == "":
		return invalid(FieldLab, "is required")
	case len(r.exams) == 0:
		return invalid(FieldExams, "must contain at least one exam")
	}
	return nil
}

func (r *Reservation) Clone() *Reservation {
	c := *r
	c.exams = r.Exams()
	return &c
}

func (r *Reservation) ToRecord() Record {
	return Record{
		ID:          r.id,
		FirstName:   r.firstName,
		LastName:    r.lastName,
		Email:       r.email,
		InsertedAt:  formatTimestamp(r.insertedAt),
		ModifiedAt:  formatTimestamp(r.modifiedAt),
		ScheduledAt: formatTimestamp(r.scheduledAt),
		FiscalCode:  r.fiscalCode,
		HealthCard:  r.healthCard,
		Lab:         r.lab,
		Exams:       r.Exams(),
	}
}

// FromRecord builds a Reservation through the validating setters.
// An empty id or empty timestamps other than the booking date are allowed,
// so the same path serves new candidates and stored records.
func FromRecord(rec Record) (*Reservation, error) {
	r := &Reservation{}

	if strings.TrimSpace(rec.ID) != "" {
		if err := r.SetID(rec.ID); err != nil {
			return nil, err
		}
	}
	if err := r.SetFirstName(rec.FirstName); err != nil {
		return nil, err
	}
	if err := r.SetLastName(rec.LastName); err != nil {
		return nil, err
	}
	if err := r.SetEmail(rec.Email); err != nil {
		return nil, err
	}

	inserted, err := parseOptionalTimestamp(FieldInsertedAt, rec.InsertedAt)
	if err != nil {
		return nil, err
	}
	r.SetInsertedAt(inserted)

	modified, err := parseOptionalTimestamp(FieldModifiedAt, rec.ModifiedAt)
	if err != nil {
		return nil, err
	}
	r.SetModifiedAt(modified)

	scheduled, err := ParseTimestamp(FieldScheduledAt, rec.ScheduledAt)
	if err != nil {
		return nil, err
	}
	if err := r.SetScheduledAt(scheduled); err != nil {
		return nil, err
	}

	if err := r.SetFiscalCode(rec.FiscalCode); err != nil {
		return nil, err
	}
	if err := r.SetHealthCard(rec.HealthCard); err != nil {
		return nil, err
	}
	if err := r.SetLab(rec.Lab); err != nil {
		return nil, err
	}
	if err := r.SetExams(rec.Exams); err != nil {
		return nil, err
	}

	return r, nil
}

func parseOptionalTimestamp(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return ParseTimestamp(field, s)
}

func cleanExams(exams []string) ([]string, error) {
	if len(exams) == 0 {
		return nil, invalid(FieldExams, "must contain at least one exam")
	}
	out := make([]string, 0, len(exams))
	for _, e := range exams {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, invalid(FieldExams, "exam identifiers must not be blank")
		}
		out = append(out, e)
	}
	return out, nil
}
