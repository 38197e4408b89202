package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/booking/internal/platform/clock"
)

func newMockProfileRepo(t *testing.T) (pgxmock.PgxPoolIface, ProfileRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewProfileRepoPG(mock, clock.NewFake(testNow))
}

func TestProfileRepoPG_Get(t *testing.T) {
	mock, repo := newMockProfileRepo(t)
	providerID := uuid.New()
	weekly, _ := json.Marshal(mondayProfile(providerID).Weekly)

	mock.ExpectQuery("SELECT provider_id, timezone").
		WithArgs(providerID).
		WillReturnRows(pgxmock.NewRows([]string{"provider_id", "timezone", "weekly", "date_overrides", "version", "created_at", "updated_at"}).
			AddRow(providerID, "America/New_York", weekly, []byte(`[{"date":"2030-01-07","unavailable":true}]`), 3, testNow, testNow))

	p, err := repo.Get(context.Background(), providerID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", p.Timezone)
	assert.Equal(t, 3, p.Version)
	assert.True(t, p.Weekly["monday"].Enabled)
	require.Len(t, p.DateOverrides, 1)
	assert.Equal(t, monday, p.DateOverrides[0].Date)
	assert.True(t, p.DateOverrides[0].Unavailable)
}

func TestProfileRepoPG_GetNotFound(t *testing.T) {
	mock, repo := newMockProfileRepo(t)
	providerID := uuid.New()
	mock.ExpectQuery("SELECT provider_id, timezone").
		WithArgs(providerID).
		WillReturnRows(pgxmock.NewRows([]string{"provider_id"}))

	_, err := repo.Get(context.Background(), providerID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestProfileRepoPG_Create(t *testing.T) {
	mock, repo := newMockProfileRepo(t)
	p := DefaultProfile(uuid.New(), "UTC")

	mock.ExpectExec("INSERT INTO availability_profile").
		WithArgs(p.ProviderID, "UTC", pgxmock.AnyArg(), pgxmock.AnyArg(), 1, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO availability_profile").
		WithArgs(p.ProviderID, "UTC", pgxmock.AnyArg(), pgxmock.AnyArg(), 1, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := repo.Create(context.Background(), &p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testNow, p.CreatedAt)

	again := DefaultProfile(p.ProviderID, "UTC")
	created, err = repo.Create(context.Background(), &again)
	require.NoError(t, err)
	assert.False(t, created, "second create should leave the existing profile alone")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepoPG_Update(t *testing.T) {
	mock, repo := newMockProfileRepo(t)
	p := DefaultProfile(uuid.New(), "UTC")
	p.Version = 2

	mock.ExpectExec("UPDATE availability_profile").
		WithArgs(p.ProviderID, 2, "UTC", pgxmock.AnyArg(), pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), &p))
	assert.Equal(t, 3, p.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepoPG_UpdateStaleVersion(t *testing.T) {
	mock, repo := newMockProfileRepo(t)
	p := DefaultProfile(uuid.New(), "UTC")
	p.Version = 1

	mock.ExpectExec("UPDATE availability_profile").
		WithArgs(p.ProviderID, 1, "UTC", pgxmock.AnyArg(), pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(p.ProviderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Update(context.Background(), &p)
	assert.True(t, errors.Is(err, ErrVersionConflict), "expected ErrVersionConflict, got %v", err)
	assert.Equal(t, 1, p.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepoPG_UpdateMissing(t *testing.T) {
	mock, repo := newMockProfileRepo(t)
	p := DefaultProfile(uuid.New(), "UTC")
	p.Version = 1

	mock.ExpectExec("UPDATE availability_profile").
		WithArgs(p.ProviderID, 1, "UTC", pgxmock.AnyArg(), pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(p.ProviderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.Update(context.Background(), &p)
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepoMemory(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepoMemory(clock.NewFake(testNow))
	p := DefaultProfile(uuid.New(), "UTC")

	if _, err := repo.Get(ctx, p.ProviderID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	created, err := repo.Create(ctx, &p)
	if err != nil || !created {
		t.Fatalf("expected create, got %v (%v)", created, err)
	}

	stale := p
	p.Timezone = "Asia/Tokyo"
	if err := repo.Update(ctx, &p); err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Version != 2 {
		t.Errorf("expected version 2, got %d", p.Version)
	}
	if err := repo.Update(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := repo.Get(ctx, p.ProviderID)
	got.Weekly["monday"] = DayRule{}
	again, _ := repo.Get(ctx, p.ProviderID)
	if !again.Weekly["monday"].Enabled {
		t.Error("mutating a returned profile must not change the repository")
	}
}
