package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/booking/internal/platform/clock"
)

// transition validates and applies r -> to in place. It reports false when
// the change is an idempotent no-op (cancelling something already cancelled).
func transition(r *Reservation, to Status, actor Actor, now time.Time) (bool, error) {
	if to == StatusCancelled && r.Status == StatusCancelled {
		return false, nil
	}
	if r.Kind == KindBlock && to != StatusCancelled {
		return false, &InvalidTransitionError{From: r.Status, To: to}
	}
	if !r.Status.CanTransitionTo(to) {
		return false, &InvalidTransitionError{From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = now
	if to == StatusCancelled {
		at := now
		r.CancelledAt = &at
		if actor.ID != uuid.Nil {
			by := actor.ID
			r.CancelledBy = &by
		}
	}
	return true, nil
}

// claimsTime reports whether moving from -> to starts holding provider time,
// which requires a fresh overlap check.
func claimsTime(from, to Status) bool {
	return !from.Occupies() && to.Occupies()
}

type calendar struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Reservation
}

func (c *calendar) conflict(start, end time.Time, skip uuid.UUID) *Reservation {
	var first *Reservation
	for id, r := range c.items {
		if id == skip || !r.Status.Occupies() || !r.Overlaps(start, end) {
			continue
		}
		if first == nil || r.Start.Before(first.Start) {
			first = r
		}
	}
	return first
}

type memoryLedger struct {
	clock clock.Clock

	mu        sync.Mutex
	calendars map[uuid.UUID]*calendar
	owners    map[uuid.UUID]uuid.UUID // reservation id -> provider id
}

// NewMemoryLedger returns a Ledger held in process memory. Each provider's
// calendar has its own lock, so bookings for different providers never
// contend.
func NewMemoryLedger(clk clock.Clock) Ledger {
	return &memoryLedger{
		clock:     clk,
		calendars: make(map[uuid.UUID]*calendar),
		owners:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (l *memoryLedger) calendar(providerID uuid.UUID) *calendar {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.calendars[providerID]
	if !ok {
		c = &calendar{items: make(map[uuid.UUID]*Reservation)}
		l.calendars[providerID] = c
	}
	return c
}

func (l *memoryLedger) owner(id uuid.UUID) (uuid.UUID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.owners[id]
	return p, ok
}

func (l *memoryLedger) ListReservations(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := l.calendar(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reservation, 0, len(c.items))
	for _, r := range c.items {
		if r.Status == StatusCancelled || !r.Overlaps(from, to) {
			continue
		}
		out = append(out, *r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (l *memoryLedger) TryReserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := l.calendar(req.ProviderID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Status.Occupies() {
		if hit := c.conflict(req.Start, req.End(), uuid.Nil); hit != nil {
			return nil, &SlotTakenError{ProviderID: req.ProviderID, Start: req.Start, End: req.End(), ConflictID: hit.ID}
		}
	}
	r := newReservation(req, l.clock.Now())
	c.items[r.ID] = r

	l.mu.Lock()
	l.owners[r.ID] = r.ProviderID
	l.mu.Unlock()
	return r.clone(), nil
}

func (l *memoryLedger) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Reservation, error) {
	return l.UpdateStatus(ctx, id, StatusCancelled, actor)
}

func (l *memoryLedger) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	providerID, ok := l.owner(id)
	if !ok {
		return nil, ErrNotFound
	}
	c := l.calendar(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if claimsTime(r.Status, to) && r.Status.CanTransitionTo(to) {
		if hit := c.conflict(r.Start, r.End(), r.ID); hit != nil {
			return nil, &SlotTakenError{ProviderID: providerID, Start: r.Start, End: r.End(), ConflictID: hit.ID}
		}
	}
	updated := r.clone()
	if _, err := transition(updated, to, actor, l.clock.Now()); err != nil {
		return nil, err
	}
	c.items[id] = updated
	return updated.clone(), nil
}

func (l *memoryLedger) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	providerID, ok := l.owner(id)
	if !ok {
		return nil, ErrNotFound
	}
	c := l.calendar(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (l *memoryLedger) SetPaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	providerID, ok := l.owner(id)
	if !ok {
		return ErrNotFound
	}
	c := l.calendar(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[id]
	if !ok || r.Kind != KindAppointment {
		return ErrNotFound
	}
	updated := r.clone()
	updated.PaymentStatus = status
	updated.UpdatedAt = l.clock.Now()
	c.items[id] = updated
	return nil
}
