package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger is the single authority on which reservations exist. TryReserve
// is the only way to create one and is atomic per provider.
type Ledger interface {
	// ListReservations returns non-cancelled reservations overlapping
	// [from, to), ordered by start.
	ListReservations(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Reservation, error)
	// TryReserve inserts req unless an occupying reservation for the same
	// provider overlaps it, in which case it returns *SlotTakenError.
	TryReserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	// Cancel moves a reservation to cancelled. Cancelling twice is a no-op.
	Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Reservation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Reservation, error)
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error
}

// ProfileRepository stores one availability profile per provider.
type ProfileRepository interface {
	Get(ctx context.Context, providerID uuid.UUID) (*Profile, error)
	// Create stores p if the provider has no profile yet and reports
	// whether it did.
	Create(ctx context.Context, p *Profile) (bool, error)
	// Update replaces the stored profile when its version equals p.Version,
	// then increments p.Version. A mismatch returns ErrVersionConflict.
	Update(ctx context.Context, p *Profile) error
}
