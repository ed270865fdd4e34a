package notify

import (
	"time"

	"github.com/google/uuid"

	"bookwise/backend/internal/domain"
)

// Event is the payload published for every appointment change.
type Event struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	AppointmentID string    `json:"appointment_id"`
	ProviderID    string    `json:"provider_id"`
	RequesterID   string    `json:"requester_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Timezone      string    `json:"timezone"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	CancelledBy   string    `json:"cancelled_by,omitempty"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
}

func NewEvent(appt domain.Appointment, eventType string, now time.Time) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       id.String(),
		EventType:     eventType,
		OccurredAt:    now.UTC(),
		AppointmentID: appt.ID.String(),
		ProviderID:    appt.ProviderID,
		RequesterID:   appt.RequesterID,
		Date:          appt.Date.String(),
		StartTime:     appt.StartTime.String(),
		EndTime:       appt.EndTime.String(),
		Timezone:      appt.Timezone,
		Status:        string(appt.Status),
		AmountCents:   appt.AmountCents,
		Currency:      appt.Currency,
		CancelledBy:   string(appt.CancelledBy),
		CancelReason:  appt.CancelReason,
	}, nil
}
