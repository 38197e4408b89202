package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/booking/internal/platform/clock"
	"github.com/carebook/booking/internal/platform/db"
)

// SQLSTATE codes the ledger reacts to.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
	pgSerialization      = "40001"
	pgDeadlock           = "40P01"
	pgLockNotAvailable   = "55P03"
)

type ledgerPG struct {
	db    db.DB
	clock clock.Clock
	retry RetryPolicy
}

// NewLedgerPG returns a Postgres-backed Ledger. Reservations for one
// provider are serialized with a transaction-scoped advisory lock, and the
// reservation table's exclusion constraint rejects any overlap that slips
// past it.
func NewLedgerPG(conn db.DB, clk clock.Clock, retry RetryPolicy) Ledger {
	if retry.Clock == nil {
		retry.Clock = clk
	}
	return &ledgerPG{db: conn, clock: clk, retry: retry}
}

const reservationCols = `id, kind, provider_id, patient_id, start_time, end_time, duration_minutes,
	visit_type, status, note, payment_status, created_at, updated_at, cancelled_at, cancelled_by`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		r                     Reservation
		kind, status, payment string
		end                   time.Time
	)
	err := row.Scan(&r.ID, &kind, &r.ProviderID, &r.PatientID, &r.Start, &end, &r.DurationMinutes,
		&r.VisitType, &status, &r.Note, &payment, &r.CreatedAt, &r.UpdatedAt, &r.CancelledAt, &r.CancelledBy)
	if err != nil {
		return nil, err
	}
	r.Kind = Kind(kind)
	r.Status = Status(status)
	r.PaymentStatus = PaymentStatus(payment)
	r.Start = r.Start.UTC()
	return &r, nil
}

// lockProvider serializes writers for one provider until tx ends.
func lockProvider(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID.String())
	return err
}

func findConflict(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, start, end time.Time, skip uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM reservation
		WHERE provider_id = $1 AND id <> $4
			AND status NOT IN ('cancelled', 'waitlist')
			AND start_time < $3 AND end_time > $2
		ORDER BY start_time
		LIMIT 1`, providerID, start, end, skip).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return id, err
}

// classify maps driver errors onto ledger errors. Constraint violations on
// the no-overlap exclusion mean someone else won the race.
func classify(err error, providerID uuid.UUID, start, end time.Time) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation, pgUniqueViolation:
			return &SlotTakenError{ProviderID: providerID, Start: start, End: end}
		case pgSerialization, pgDeadlock, pgLockNotAvailable:
			return &TransientStoreError{Err: err}
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return &TransientStoreError{Err: err}
	}
	return err
}

// inTx runs fn inside a transaction, rolling back unless fn and the commit
// both succeed.
func (l *ledgerPG) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (l *ledgerPG) ListReservations(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	rows, err := l.db.Query(ctx, `SELECT `+reservationCols+` FROM reservation
		WHERE provider_id = $1 AND status <> 'cancelled'
			AND start_time < $3 AND end_time > $2
		ORDER BY start_time`, providerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, classify(err, providerID, from, to)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, providerID, from, to)
	}
	return out, nil
}

func (l *ledgerPG) TryReserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	var out *Reservation
	err := l.retry.Do(ctx, func(ctx context.Context) error {
		r, err := l.reserveOnce(ctx, req)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *ledgerPG) reserveOnce(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	start, end := req.Start.UTC(), req.End().UTC()
	r := newReservation(req, l.clock.Now())

	err := l.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockProvider(ctx, tx, req.ProviderID); err != nil {
			return err
		}
		if req.Status.Occupies() {
			hit, err := findConflict(ctx, tx, req.ProviderID, start, end, uuid.Nil)
			if err != nil {
				return err
			}
			if hit != uuid.Nil {
				return &SlotTakenError{ProviderID: req.ProviderID, Start: start, End: end, ConflictID: hit}
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO reservation (id, kind, provider_id, patient_id, start_time, end_time, duration_minutes,
				visit_type, status, note, payment_status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			r.ID, string(r.Kind), r.ProviderID, r.PatientID, start, end, r.DurationMinutes,
			r.VisitType, string(r.Status), r.Note, string(r.PaymentStatus), r.CreatedAt, r.UpdatedAt)
		return err
	})
	if err != nil {
		var taken *SlotTakenError
		if errors.As(err, &taken) {
			return nil, taken
		}
		return nil, classify(err, req.ProviderID, start, end)
	}
	return r, nil
}

func (l *ledgerPG) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Reservation, error) {
	return l.UpdateStatus(ctx, id, StatusCancelled, actor)
}

func (l *ledgerPG) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Reservation, error) {
	var out *Reservation
	err := l.retry.Do(ctx, func(ctx context.Context) error {
		r, err := l.updateOnce(ctx, id, to, actor)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *ledgerPG) updateOnce(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Reservation, error) {
	var out *Reservation
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		r, err := scanReservation(tx.QueryRow(ctx,
			`SELECT `+reservationCols+` FROM reservation WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if claimsTime(r.Status, to) && r.Status.CanTransitionTo(to) {
			if err := lockProvider(ctx, tx, r.ProviderID); err != nil {
				return err
			}
			hit, err := findConflict(ctx, tx, r.ProviderID, r.Start, r.End(), r.ID)
			if err != nil {
				return err
			}
			if hit != uuid.Nil {
				return &SlotTakenError{ProviderID: r.ProviderID, Start: r.Start, End: r.End(), ConflictID: hit}
			}
		}

		changed, err := transition(r, to, actor, l.clock.Now())
		if err != nil {
			return err
		}
		out = r
		if !changed {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE reservation SET status = $2, updated_at = $3, cancelled_at = $4, cancelled_by = $5
			WHERE id = $1`,
			r.ID, string(r.Status), r.UpdatedAt, r.CancelledAt, r.CancelledBy)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		var (
			taken   *SlotTakenError
			invalid *InvalidTransitionError
		)
		if errors.As(err, &taken) || errors.As(err, &invalid) {
			return nil, err
		}
		return nil, classify(err, uuid.Nil, time.Time{}, time.Time{})
	}
	return out, nil
}

func (l *ledgerPG) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := scanReservation(l.db.QueryRow(ctx,
		`SELECT `+reservationCols+` FROM reservation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, uuid.Nil, time.Time{}, time.Time{})
	}
	return r, nil
}

func (l *ledgerPG) SetPaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	tag, err := l.db.Exec(ctx,
		`UPDATE reservation SET payment_status = $2, updated_at = $3 WHERE id = $1 AND kind = 'appointment'`,
		id, string(status), l.clock.Now())
	if err != nil {
		return classify(err, uuid.Nil, time.Time{}, time.Time{})
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
