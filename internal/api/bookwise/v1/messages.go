// Package bookwisev1 holds the wire messages of the bookwise.v1 booking API. The gRPC and HTTP
// transports share them so both surfaces speak the same JSON.
package bookwisev1

import "time"

type AvailabilityRule struct {
	ID        string `json:"id,omitempty"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type SetAvailabilityRequest struct {
	ProviderID string             `json:"provider_id"`
	Rules      []AvailabilityRule `json:"rules"`
}

type SetAvailabilityResponse struct {
	Rules []AvailabilityRule `json:"rules"`
}

type ListAvailabilityRulesRequest struct {
	ProviderID string `json:"provider_id"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`
}

type ListAvailabilityRulesResponse struct {
	Rules []AvailabilityRule `json:"rules"`
}

type QueryAvailabilityRequest struct {
	ProviderID string `json:"provider_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DayAvailability struct {
	Date      string   `json:"date"`
	DayOfWeek int      `json:"day_of_week"`
	Windows   []Window `json:"windows"`
}

type QueryAvailabilityResponse struct {
	Days []DayAvailability `json:"days"`
}

// ReserveRequest names the slot either as provider-local date/start_time/end_time or as
// absolute starts_at/ends_at instants.
type ReserveRequest struct {
	ProviderID     string     `json:"provider_id"`
	RequesterID    string     `json:"requester_id"`
	Date           string     `json:"date,omitempty"`
	StartTime      string     `json:"start_time,omitempty"`
	EndTime        string     `json:"end_time,omitempty"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type ReserveResponse struct {
	Appointment *Appointment `json:"appointment"`
}

type TransitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Event         string `json:"event"`
	Actor         string `json:"actor,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type TransitionResponse struct {
	Appointment *Appointment `json:"appointment"`
}

type GetAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type GetAppointmentResponse struct {
	Appointment *Appointment `json:"appointment"`
}

// ListAppointmentsRequest selects by provider or by requester; from/to are required for a
// provider and optional for a requester.
type ListAppointmentsRequest struct {
	ProviderID  string `json:"provider_id,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []*Appointment `json:"appointments"`
}

type Appointment struct {
	ID           string     `json:"id"`
	ProviderID   string     `json:"provider_id"`
	RequesterID  string     `json:"requester_id"`
	Date         string     `json:"date"`
	StartTime    string     `json:"start_time"`
	EndTime      string     `json:"end_time"`
	Status       string     `json:"status"`
	Timezone     string     `json:"timezone"`
	AmountCents  int64      `json:"amount_cents"`
	Currency     string     `json:"currency"`
	Notes        string     `json:"notes,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
