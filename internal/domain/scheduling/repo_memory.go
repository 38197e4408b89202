package scheduling

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/carebook/booking/internal/platform/clock"
)

type profileRepoMemory struct {
	clock clock.Clock

	mu       sync.RWMutex
	profiles map[uuid.UUID]Profile
}

// NewProfileRepoMemory returns an in-process ProfileRepository.
func NewProfileRepoMemory(clk clock.Clock) ProfileRepository {
	return &profileRepoMemory{clock: clk, profiles: make(map[uuid.UUID]Profile)}
}

func (r *profileRepoMemory) Get(_ context.Context, providerID uuid.UUID) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[providerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p.clone()
	return &cp, nil
}

func (r *profileRepoMemory) Create(_ context.Context, p *Profile) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ProviderID]; ok {
		return false, nil
	}
	now := r.clock.Now()
	if p.Version == 0 {
		p.Version = 1
	}
	p.CreatedAt, p.UpdatedAt = now, now
	r.profiles[p.ProviderID] = p.clone()
	return true, nil
}

func (r *profileRepoMemory) Update(_ context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.profiles[p.ProviderID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != p.Version {
		return ErrVersionConflict
	}
	p.Version++
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = r.clock.Now()
	r.profiles[p.ProviderID] = p.clone()
	return nil
}
