package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/booking/internal/platform/cache"
	"github.com/carebook/booking/internal/platform/clock"
	"github.com/carebook/booking/internal/platform/metrics"
	"github.com/carebook/booking/internal/platform/timezone"
)

// Config holds booking policy knobs.
type Config struct {
	DefaultTimezone             string
	DefaultSlotMinutes          int
	MinDurationMinutes          int
	MaxDurationMinutes          int
	SkewGrace                   time.Duration
	AutoConfirmProviderBookings bool
	SlotCacheTTL                time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTimezone:    "UTC",
		DefaultSlotMinutes: 30,
		MinDurationMinutes: 10,
		MaxDurationMinutes: 240,
		SkewGrace:          time.Minute,
		SlotCacheTTL:       time.Minute,
	}
}

type Service struct {
	profiles ProfileRepository
	ledger   Ledger
	clock    clock.Clock
	cache    cache.Cache
	metrics  *metrics.BookingMetrics
	log      zerolog.Logger
	cfg      Config
}

type Option func(*Service)

func WithCache(c cache.Cache) Option { return func(s *Service) { s.cache = c } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(profiles ProfileRepository, ledger Ledger, clk clock.Clock, cfg Config, opts ...Option) *Service {
	s := &Service{
		profiles: profiles,
		ledger:   ledger,
		clock:    clk,
		cache:    cache.Noop{},
		log:      zerolog.Nop(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BookRequest asks for an appointment at an exact instant.
type BookRequest struct {
	ProviderID      uuid.UUID `json:"providerId"`
	PatientID       uuid.UUID `json:"patientId"`
	Start           time.Time `json:"startInstant"`
	DurationMinutes int       `json:"durationMinutes"`
	VisitType       string    `json:"visitType"`
	Note            string    `json:"note"`
}

// BlockRequest reserves provider time with no patient attached.
type BlockRequest struct {
	Start           time.Time `json:"startInstant"`
	DurationMinutes int       `json:"durationMinutes"`
	Note            string    `json:"note"`
}

// AvailabilityQuery selects dates [From, To] in the provider's zone.
type AvailabilityQuery struct {
	ProviderID  uuid.UUID
	From        timezone.Date
	To          timezone.Date
	SlotMinutes int
}

// -- authorization --

func canManageCalendar(actor Actor, providerID uuid.UUID) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleProvider:
		return actor.ID == providerID
	}
	return false
}

func canAccess(actor Actor, r *Reservation) bool {
	if canManageCalendar(actor, r.ProviderID) {
		return true
	}
	return actor.Role == RolePatient && r.Kind == KindAppointment &&
		r.PatientID != nil && *r.PatientID == actor.ID
}

func authorizeBooking(actor Actor, req BookRequest) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RolePatient:
		if req.PatientID == actor.ID {
			return nil
		}
	case RoleProvider:
		if req.ProviderID == actor.ID {
			return nil
		}
	}
	return ErrForbidden
}

// -- availability --

// ListAvailability returns the provider's open slots across the query
// dates, excluding anything already reserved or already started.
func (s *Service) ListAvailability(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	if q.ProviderID == uuid.Nil {
		return nil, validationf(CodeInvalidRequest, "providerId is required")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return nil, validationf(CodeInvalidRange, "rangeStart and rangeEnd are required")
	}
	if q.To.Before(q.From) {
		return nil, validationf(CodeInvalidRange, "rangeEnd %s is before rangeStart %s", q.To, q.From)
	}
	if q.From.DaysUntil(q.To) >= MaxRangeDays {
		return nil, validationf(CodeInvalidRange, "range may cover at most %d days", MaxRangeDays)
	}
	minutes := q.SlotMinutes
	if minutes == 0 {
		minutes = s.cfg.DefaultSlotMinutes
	}
	if err := s.checkDuration(minutes); err != nil {
		return nil, err
	}

	p, err := s.profiles.Get(ctx, q.ProviderID)
	if err != nil {
		return nil, err
	}
	loc, err := timezone.Load(p.Timezone)
	if err != nil {
		return nil, validationf(CodeInvalidTimezone, "unknown time zone %q", p.Timezone)
	}

	ns := q.ProviderID.String()
	key := cache.Key{Namespace: ns, Name: fmt.Sprintf("slots:%s:%s:%d:v%d", q.From, q.To, minutes, p.Version)}
	cacheable := true
	if key.Generation, err = s.cache.Generation(ctx, ns); err != nil {
		s.log.Warn().Err(err).Str("provider_id", ns).Msg("slot cache unavailable")
		cacheable = false
	}

	var slots []Slot
	hit := false
	if cacheable {
		if hit, err = s.cache.Get(ctx, key, &slots); err != nil {
			s.log.Warn().Err(err).Str("provider_id", ns).Msg("slot cache read failed")
			hit = false
		}
		s.metrics.ObserveCacheLookup(hit)
	}
	if !hit {
		started := time.Now()
		lo, hi := dayBounds(q.From, q.To, loc)
		existing, err := s.ledger.ListReservations(ctx, q.ProviderID, lo, hi)
		if err != nil {
			return nil, err
		}
		slots, err = GenerateSlots(*p, q.From, q.To, existing, minutes)
		if err != nil {
			return nil, err
		}
		s.metrics.ObserveGeneration(time.Since(started).Seconds())
		if cacheable {
			if err := s.cache.Set(ctx, key, slots, s.cfg.SlotCacheTTL); err != nil {
				s.log.Warn().Err(err).Str("provider_id", ns).Msg("slot cache write failed")
			}
		}
	}

	now := s.clock.Now()
	out := make([]Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.Start.Before(now) {
			continue
		}
		sl.ProviderID = q.ProviderID
		out = append(out, sl)
	}
	return out, nil
}

// -- booking --

// Book reserves an appointment. The request must match a generated slot
// exactly; the ledger decides races.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Reservation, error) {
	if actor.Role == RolePatient && req.PatientID == uuid.Nil {
		req.PatientID = actor.ID
	}
	if err := authorizeBooking(actor, req); err != nil {
		return nil, err
	}
	status := StatusPending
	if actor.Role == RoleProvider && actor.ID == req.ProviderID && s.cfg.AutoConfirmProviderBookings {
		status = StatusConfirmed
	}
	return s.reserveAppointment(ctx, req, status)
}

// JoinWaitlist records interest in an offered slot without holding it.
func (s *Service) JoinWaitlist(ctx context.Context, actor Actor, req BookRequest) (*Reservation, error) {
	if actor.Role == RolePatient && req.PatientID == uuid.Nil {
		req.PatientID = actor.ID
	}
	if err := authorizeBooking(actor, req); err != nil {
		return nil, err
	}
	return s.reserveAppointment(ctx, req, StatusWaitlist)
}

func (s *Service) reserveAppointment(ctx context.Context, req BookRequest, status Status) (*Reservation, error) {
	visitType, err := s.validateBooking(ctx, req)
	if err != nil {
		s.metrics.ObserveBooking(string(KindAppointment), outcomeOf(err))
		return nil, err
	}
	patientID := req.PatientID
	r, err := s.ledger.TryReserve(ctx, ReserveRequest{
		Kind:            KindAppointment,
		ProviderID:      req.ProviderID,
		PatientID:       &patientID,
		Start:           req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		VisitType:       visitType,
		Status:          status,
		Note:            req.Note,
	})
	s.metrics.ObserveBooking(string(KindAppointment), outcomeOf(err))
	if err != nil {
		if IsSlotTaken(err) {
			s.log.Info().Str("provider_id", req.ProviderID.String()).
				Time("start", req.Start).Msg("booking lost race for slot")
		}
		return nil, err
	}
	if status.Occupies() {
		s.invalidate(ctx, req.ProviderID)
	}
	s.log.Info().
		Str("reservation_id", r.ID.String()).
		Str("provider_id", r.ProviderID.String()).
		Str("status", string(r.Status)).
		Time("start", r.Start).
		Msg("appointment reserved")
	return r, nil
}

func (s *Service) validateBooking(ctx context.Context, req BookRequest) (string, error) {
	if req.ProviderID == uuid.Nil {
		return "", validationf(CodeInvalidRequest, "providerId is required")
	}
	if req.PatientID == uuid.Nil {
		return "", validationf(CodeInvalidRequest, "patientId is required")
	}
	if req.Start.IsZero() {
		return "", validationf(CodeInvalidRequest, "startInstant is required")
	}
	if err := s.checkDuration(req.DurationMinutes); err != nil {
		return "", err
	}
	if req.Start.Before(s.clock.Now().Add(-s.cfg.SkewGrace)) {
		return "", validationf(CodePastStart, "start %s is in the past", req.Start.UTC().Format(time.RFC3339))
	}

	p, err := s.profiles.Get(ctx, req.ProviderID)
	if errors.Is(err, ErrNotFound) {
		return "", validationf(CodeOutsideAvailability, "provider has no availability")
	}
	if err != nil {
		return "", err
	}
	return s.offered(*p, req)
}

// offered checks the request against the slots the profile would offer on
// that local date, ignoring reservations so a taken slot reports a conflict
// rather than an availability error.
func (s *Service) offered(p Profile, req BookRequest) (string, error) {
	loc, err := timezone.Load(p.Timezone)
	if err != nil {
		return "", validationf(CodeInvalidTimezone, "unknown time zone %q", p.Timezone)
	}
	day := timezone.DateOf(req.Start, loc)
	slots, err := GenerateSlots(p, day, day, nil, req.DurationMinutes)
	if err != nil {
		return "", err
	}
	for _, sl := range slots {
		if !sl.Start.Equal(req.Start) {
			continue
		}
		if req.VisitType != "" && req.VisitType != sl.VisitType {
			return "", validationf(CodeOutsideAvailability, "visit type %q is not offered at %s", req.VisitType,
				timezone.FormatLocal(req.Start, p.Timezone))
		}
		return sl.VisitType, nil
	}
	return "", validationf(CodeOutsideAvailability, "%s is not an offered start time",
		timezone.FormatLocal(req.Start, p.Timezone))
}

func (s *Service) checkDuration(minutes int) error {
	if minutes <= 0 || minutes < s.cfg.MinDurationMinutes || (s.cfg.MaxDurationMinutes > 0 && minutes > s.cfg.MaxDurationMinutes) {
		return validationf(CodeInvalidDuration, "duration must be between %d and %d minutes, got %d",
			s.cfg.MinDurationMinutes, s.cfg.MaxDurationMinutes, minutes)
	}
	return nil
}

// -- lifecycle --

func (s *Service) GetReservation(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, r) {
		return nil, ErrForbidden
	}
	return r, nil
}

// Cancel cancels an appointment or block. Repeating it returns the same
// cancelled reservation.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, r) {
		return nil, ErrForbidden
	}
	out, err := s.ledger.Cancel(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, out.ProviderID)
	s.log.Info().Str("reservation_id", id.String()).Str("kind", string(out.Kind)).Msg("reservation cancelled")
	return out, nil
}

// UpdateStatus applies a lifecycle transition. Patients may only cancel.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, status string) (*Reservation, error) {
	to, ok := ParseStatus(status)
	if !ok {
		return nil, validationf(CodeInvalidStatus, "unknown status %q", status)
	}
	r, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, r) {
		return nil, ErrForbidden
	}
	if actor.Role == RolePatient && to != StatusCancelled {
		return nil, ErrForbidden
	}
	out, err := s.ledger.UpdateStatus(ctx, id, to, actor)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, out.ProviderID)
	s.log.Info().Str("reservation_id", id.String()).
		Str("from", string(r.Status)).Str("to", string(out.Status)).Msg("reservation status changed")
	return out, nil
}

// CreateBlock reserves provider time for non-clinical use. Blocks may sit
// outside the weekly profile.
func (s *Service) CreateBlock(ctx context.Context, actor Actor, providerID uuid.UUID, req BlockRequest) (*Reservation, error) {
	if !canManageCalendar(actor, providerID) {
		return nil, ErrForbidden
	}
	if req.Start.IsZero() {
		return nil, validationf(CodeInvalidRequest, "startInstant is required")
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > MaxRangeDays*24*60 {
		return nil, validationf(CodeInvalidDuration, "block duration must be between 1 minute and %d days", MaxRangeDays)
	}
	end := req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	if !end.After(s.clock.Now().Add(-s.cfg.SkewGrace)) {
		return nil, validationf(CodePastStart, "block ends in the past")
	}
	r, err := s.ledger.TryReserve(ctx, ReserveRequest{
		Kind:            KindBlock,
		ProviderID:      providerID,
		Start:           req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		Status:          StatusConfirmed,
		Note:            req.Note,
	})
	s.metrics.ObserveBooking(string(KindBlock), outcomeOf(err))
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, providerID)
	s.log.Info().Str("reservation_id", r.ID.String()).Str("provider_id", providerID.String()).Msg("block created")
	return r, nil
}

// CancelBlock cancels a block. Appointments are not reachable through it.
func (s *Service) CancelBlock(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Kind != KindBlock {
		return nil, ErrNotFound
	}
	if !canManageCalendar(actor, r.ProviderID) {
		return nil, ErrForbidden
	}
	return s.Cancel(ctx, actor, id)
}

// ListReservations returns the provider's non-cancelled calendar entries
// overlapping [from, to).
func (s *Service) ListReservations(ctx context.Context, actor Actor, providerID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	if !canManageCalendar(actor, providerID) {
		return nil, ErrForbidden
	}
	if !to.After(from) {
		return nil, validationf(CodeInvalidRange, "to must be after from")
	}
	return s.ledger.ListReservations(ctx, providerID, from, to)
}

// RecordPayment stores the processor's payment outcome for an appointment.
func (s *Service) RecordPayment(ctx context.Context, appointmentID uuid.UUID, status string) error {
	ps, ok := ParsePaymentStatus(status)
	if !ok {
		return validationf(CodeInvalidStatus, "unknown payment status %q", status)
	}
	if err := s.ledger.SetPaymentStatus(ctx, appointmentID, ps); err != nil {
		return err
	}
	s.log.Info().Str("reservation_id", appointmentID.String()).Str("payment_status", status).Msg("payment recorded")
	return nil
}

// -- profile --

func (s *Service) GetProfile(ctx context.Context, providerID uuid.UUID) (*Profile, error) {
	return s.profiles.Get(ctx, providerID)
}

// ReplaceProfile overwrites the profile. p.Version must equal the stored
// version.
func (s *Service) ReplaceProfile(ctx context.Context, actor Actor, providerID uuid.UUID, p Profile) (*Profile, error) {
	if !canManageCalendar(actor, providerID) {
		return nil, ErrForbidden
	}
	p.ProviderID = providerID
	p = p.WithWeekly(p.Weekly).WithOverrides(p.DateOverrides)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.storeProfile(ctx, &p)
}

// PatchProfile merges patch into the stored profile.
func (s *Service) PatchProfile(ctx context.Context, actor Actor, providerID uuid.UUID, patch ProfilePatch) (*Profile, error) {
	if !canManageCalendar(actor, providerID) {
		return nil, ErrForbidden
	}
	cur, err := s.profiles.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if patch.Version != nil && *patch.Version != cur.Version {
		return nil, ErrVersionConflict
	}
	next := patch.Apply(*cur)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return s.storeProfile(ctx, &next)
}

func (s *Service) storeProfile(ctx context.Context, p *Profile) (*Profile, error) {
	if err := s.profiles.Update(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx, p.ProviderID)
	s.log.Info().Str("provider_id", p.ProviderID.String()).Int("version", p.Version).Msg("availability profile updated")
	return s.profiles.Get(ctx, p.ProviderID)
}

// ProvisionProfile gives a provider the default profile if they have none.
// It reports whether a profile was created.
func (s *Service) ProvisionProfile(ctx context.Context, actor Actor, providerID uuid.UUID) (*Profile, bool, error) {
	if !canManageCalendar(actor, providerID) {
		return nil, false, ErrForbidden
	}
	p := DefaultProfile(providerID, timezone.Normalize(s.cfg.DefaultTimezone, "UTC"))
	created, err := s.profiles.Create(ctx, &p)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.profiles.Get(ctx, providerID)
		return existing, false, err
	}
	s.log.Info().Str("provider_id", providerID.String()).Msg("availability profile provisioned")
	return &p, true, nil
}

func (s *Service) invalidate(ctx context.Context, providerID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, providerID.String()); err != nil {
		s.log.Warn().Err(err).Str("provider_id", providerID.String()).Msg("slot cache invalidation failed")
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "reserved"
	}
	var (
		validation *ValidationError
		taken      *SlotTakenError
	)
	switch {
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &taken):
		return "slot_taken"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	}
	return "error"
}
