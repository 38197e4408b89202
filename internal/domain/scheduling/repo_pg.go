package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebook/booking/internal/platform/clock"
	"github.com/carebook/booking/internal/platform/db"
)

type profileRepoPG struct {
	db    db.DB
	clock clock.Clock
}

// NewProfileRepoPG returns a ProfileRepository backed by the
// availability_profile table. Weekly rules and overrides are stored as JSONB.
func NewProfileRepoPG(conn db.DB, clk clock.Clock) ProfileRepository {
	return &profileRepoPG{db: conn, clock: clk}
}

const profileCols = `provider_id, timezone, weekly, date_overrides, version, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p                 Profile
		weekly, overrides []byte
	)
	if err := row.Scan(&p.ProviderID, &p.Timezone, &weekly, &overrides, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(weekly, &p.Weekly); err != nil {
		return nil, fmt.Errorf("decode weekly rules: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.DateOverrides); err != nil {
			return nil, fmt.Errorf("decode date overrides: %w", err)
		}
	}
	if p.DateOverrides == nil {
		p.DateOverrides = []DateOverride{}
	}
	return &p, nil
}

func encodeProfile(p *Profile) ([]byte, []byte, error) {
	weekly, err := json.Marshal(p.Weekly)
	if err != nil {
		return nil, nil, fmt.Errorf("encode weekly rules: %w", err)
	}
	overrides := p.DateOverrides
	if overrides == nil {
		overrides = []DateOverride{}
	}
	ov, err := json.Marshal(overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("encode date overrides: %w", err)
	}
	return weekly, ov, nil
}

func (r *profileRepoPG) Get(ctx context.Context, providerID uuid.UUID) (*Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileCols+` FROM availability_profile WHERE provider_id = $1`, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) (bool, error) {
	weekly, overrides, err := encodeProfile(p)
	if err != nil {
		return false, err
	}
	now := r.clock.Now()
	if p.Version == 0 {
		p.Version = 1
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO availability_profile (provider_id, timezone, weekly, date_overrides, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (provider_id) DO NOTHING`,
		p.ProviderID, p.Timezone, weekly, overrides, p.Version, now)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return true, nil
}

func (r *profileRepoPG) Update(ctx context.Context, p *Profile) error {
	weekly, overrides, err := encodeProfile(p)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	tag, err := r.db.Exec(ctx, `
		UPDATE availability_profile
		SET timezone = $3, weekly = $4, date_overrides = $5, version = version + 1, updated_at = $6
		WHERE provider_id = $1 AND version = $2`,
		p.ProviderID, p.Version, p.Timezone, weekly, overrides, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM availability_profile WHERE provider_id = $1)`, p.ProviderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}
