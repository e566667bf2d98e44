package repositories

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

func seedDeviation(t *testing.T, repo DeviationRepository, id string, status models.DeviationStatus) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &models.Deviation{
		ID:       id,
		Status:   status,
		Title:    "OOS Result Found",
		Priority: models.DeviationPriorityHigh,
	}, nil))
}

func TestDeviationRepository_CreateGetList(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-2400", models.DeviationStatusOpen)
	seedDeviation(t, repo, "DEV-2401", models.DeviationStatusClosed)
	seedDeviation(t, repo, "DEV-2402", models.DeviationStatusOpen)

	d, err := repo.Get(ctx, "DEV-2401")
	require.NoError(t, err)
	assert.Equal(t, models.DeviationStatusClosed, d.Status)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "DEV-2400", all[0].ID)
	assert.Equal(t, "DEV-2402", all[2].ID)

	open, err := repo.List(ctx, models.DeviationStatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeviationRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-1", models.DeviationStatusOpen)

	err := repo.Create(ctx, &models.Deviation{ID: "DEV-1"}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = repo.Get(ctx, "DEV-404")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = repo.CompareAndSwapStatus(ctx, "DEV-404", models.DeviationStatusOpen, models.DeviationStatusInProgress, time.Now(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDeviationRepository_CompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-1", models.DeviationStatusOpen)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	d, err := repo.CompareAndSwapStatus(ctx, "DEV-1", models.DeviationStatusOpen, models.DeviationStatusInProgress, at, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeviationStatusInProgress, d.Status)
	assert.Equal(t, at, d.UpdatedAt)

	_, err = repo.CompareAndSwapStatus(ctx, "DEV-1", models.DeviationStatusOpen, models.DeviationStatusInProgress, at, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	stored, err := repo.Get(ctx, "DEV-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviationStatusInProgress, stored.Status)
}

func TestDeviationRepository_ConcurrentCompareAndSwap(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-1", models.DeviationStatusOpen)

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.CompareAndSwapStatus(ctx, "DEV-1", models.DeviationStatusOpen, models.DeviationStatusInProgress, time.Now(), nil)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, apperrors.ErrInvalidTransition):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), losses.Load())
}

func TestDeviationRepository_UpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-1", models.DeviationStatusOpen)

	d, err := repo.Update(ctx, "DEV-1", func(d *models.Deviation) error {
		d.RCA.Problem = "Column degradation"
		d.Status = models.DeviationStatusClosed
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Column degradation", d.RCA.Problem)
	assert.Equal(t, models.DeviationStatusOpen, d.Status)

	_, err = repo.Update(ctx, "DEV-1", func(d *models.Deviation) error {
		d.RCA.Problem = "discarded"
		return errors.New("validation failed")
	}, nil)
	require.Error(t, err)

	stored, err := repo.Get(ctx, "DEV-1")
	require.NoError(t, err)
	assert.Equal(t, "Column degradation", stored.RCA.Problem)
}

func TestDeviationRepository_CommitFailureDiscardsChange(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-1", models.DeviationStatusOpen)
	errLedger := errors.New("ledger unavailable")
	fail := func(*models.Deviation) error { return errLedger }

	err := repo.Create(ctx, &models.Deviation{ID: "DEV-2", Status: models.DeviationStatusOpen}, fail)
	require.ErrorIs(t, err, errLedger)
	_, err = repo.Get(ctx, "DEV-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.CompareAndSwapStatus(ctx, "DEV-1", models.DeviationStatusOpen, models.DeviationStatusInProgress, time.Now(), fail)
	require.ErrorIs(t, err, errLedger)

	_, err = repo.Update(ctx, "DEV-1", func(d *models.Deviation) error {
		d.CAPA.Corrective = "Replace column"
		return nil
	}, fail)
	require.ErrorIs(t, err, errLedger)

	stored, err := repo.Get(ctx, "DEV-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviationStatusOpen, stored.Status)
	assert.Empty(t, stored.CAPA.Corrective)
}

func TestDeviationRepository_CommitSeesProposedValue(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviationRepository()
	seedDeviation(t, repo, "DEV-1", models.DeviationStatusOpen)

	var seen models.DeviationStatus
	_, err := repo.CompareAndSwapStatus(ctx, "DEV-1", models.DeviationStatusOpen, models.DeviationStatusInProgress, time.Now(),
		func(d *models.Deviation) error {
			seen = d.Status
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, models.DeviationStatusInProgress, seen)
}
