package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventReservationCreated = "reservation_created"
	EventReservationUpdated = "reservation_updated"
	EventReservationDeleted = "reservation_deleted"
)

// ReservationEventTypes lists every type the reservation service emits.
var ReservationEventTypes = []string{
	EventReservationCreated,
	EventReservationUpdated,
	EventReservationDeleted,
}

// ReservationEventPayload is the reservation snapshot handed to consumers.
// Timestamps use the record layout so consumers can store them verbatim.
type ReservationEventPayload struct {
	ReservationID string   `json:"reservation_id"`
	FiscalCode    string   `json:"cf"`
	HealthCard    string   `json:"ts"`
	Email         string   `json:"email,omitempty"`
	Lab           string   `json:"laboratorio,omitempty"`
	ScheduledAt   string   `json:"dataOraPrenotazione,omitempty"`
	Exams         []string `json:"listaEsami,omitempty"`
	Locator       string   `json:"locator,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler failures are logged to logger
// when it is non-nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns how many of
// them failed.
func (b *EventBus) Publish(event *Event) int {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	failed := 0
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			failed++
			b.logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
		}
	}
	return failed
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// DecodeReservation unmarshals the payload of a reservation event.
func DecodeReservation(event *Event) (ReservationEventPayload, error) {
	var p ReservationEventPayload
	err := json.Unmarshal(event.Payload, &p)
	return p, err
}
