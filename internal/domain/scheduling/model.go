package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes clinical appointments from provider-created blocks.
// Both share one identity space for collision checks.
type Kind string

const (
	KindAppointment Kind = "appointment"
	KindBlock       Kind = "block"
)

// Status is the closed set of reservation states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusWaitlist  Status = "waitlist"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusCompleted},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
	StatusWaitlist:  {StatusPending, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := transitions[st]
	return st, ok
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Occupies reports whether a reservation in this state holds provider time.
// Waitlist entries wait for time to free up and hold none.
func (s Status) Occupies() bool {
	return s != StatusCancelled && s != StatusWaitlist
}

// PaymentStatus mirrors the payment processor's view of an appointment. It
// never affects whether the appointment exists.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// ParsePaymentStatus returns the PaymentStatus named by s.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch p := PaymentStatus(s); p {
	case PaymentUnpaid, PaymentPaid, PaymentFailed, PaymentRefunded:
		return p, true
	}
	return "", false
}

// Reservation is a persisted appointment or block occupying provider time.
type Reservation struct {
	ID              uuid.UUID     `json:"id"`
	Kind            Kind          `json:"kind"`
	ProviderID      uuid.UUID     `json:"providerId"`
	PatientID       *uuid.UUID    `json:"patientId,omitempty"`
	Start           time.Time     `json:"startInstant"`
	DurationMinutes int           `json:"durationMinutes"`
	VisitType       string        `json:"visitType,omitempty"`
	Status          Status        `json:"status"`
	Note            string        `json:"note,omitempty"`
	PaymentStatus   PaymentStatus `json:"paymentStatus,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	CancelledAt     *time.Time    `json:"cancelledAt,omitempty"`
	CancelledBy     *uuid.UUID    `json:"cancelledBy,omitempty"`
}

// End returns the exclusive end instant.
func (r *Reservation) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// Overlaps reports whether r intersects the half-open interval [start, end).
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return overlaps(r.Start, r.End(), start, end)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func (r *Reservation) clone() *Reservation {
	cp := *r
	if r.PatientID != nil {
		id := *r.PatientID
		cp.PatientID = &id
	}
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		cp.CancelledAt = &t
	}
	if r.CancelledBy != nil {
		id := *r.CancelledBy
		cp.CancelledBy = &id
	}
	return &cp
}

// Slot is a derived, not-yet-reserved candidate interval.
type Slot struct {
	ProviderID uuid.UUID `json:"-"`
	Start      time.Time `json:"startInstant"`
	End        time.Time `json:"endInstant"`
	VisitType  string    `json:"visitType"`
}

// Role is the caller's role as asserted by the identity verifier.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// ReserveRequest is the payload handed to Ledger.TryReserve.
type ReserveRequest struct {
	Kind            Kind
	ProviderID      uuid.UUID
	PatientID       *uuid.UUID
	Start           time.Time
	DurationMinutes int
	VisitType       string
	Status          Status
	Note            string
}

// End returns the exclusive end instant of the requested interval.
func (r ReserveRequest) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

func newReservation(req ReserveRequest, now time.Time) *Reservation {
	r := &Reservation{
		ID:              uuid.New(),
		Kind:            req.Kind,
		ProviderID:      req.ProviderID,
		PatientID:       req.PatientID,
		Start:           req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		VisitType:       req.VisitType,
		Status:          req.Status,
		Note:            req.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if r.Kind == "" {
		r.Kind = KindAppointment
	}
	if r.Kind == KindAppointment {
		r.PaymentStatus = PaymentUnpaid
	}
	return r
}
