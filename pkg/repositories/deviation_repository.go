package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// CommitFunc runs inside the store's critical section with the value about
// to be stored. A non-nil error discards the change. A nil CommitFunc always
// commits.
type CommitFunc func(d *models.Deviation) error

// DeviationRepository stores deviations. Deviations are never deleted.
// Writes take a CommitFunc so callers can record the change elsewhere (the
// audit ledger) in the same order the store applies it.
type DeviationRepository interface {
	// Create stores a new deviation. The id must be unused.
	Create(ctx context.Context, d *models.Deviation, commit CommitFunc) error

	// Get returns a copy of the deviation or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Deviation, error)

	// List returns copies in creation order, optionally filtered by status.
	List(ctx context.Context, statuses ...models.DeviationStatus) ([]*models.Deviation, error)

	// CompareAndSwapStatus sets the status to next only if it currently equals
	// expected. A mismatch returns ErrInvalidTransition and changes nothing.
	CompareAndSwapStatus(ctx context.Context, id string, expected, next models.DeviationStatus, at time.Time, commit CommitFunc) (*models.Deviation, error)

	// Update applies fn to the stored deviation atomically. If fn or commit
	// returns an error the stored value is unchanged.
	Update(ctx context.Context, id string, fn func(d *models.Deviation) error, commit CommitFunc) (*models.Deviation, error)

	// Count returns the number of stored deviations.
	Count(ctx context.Context) (int, error)
}

type memoryDeviationRepository struct {
	mu    sync.Mutex
	byID  map[string]*models.Deviation
	order []string
}

// NewDeviationRepository creates an empty in-memory deviation store.
func NewDeviationRepository() DeviationRepository {
	return &memoryDeviationRepository{byID: make(map[string]*models.Deviation)}
}

var _ DeviationRepository = (*memoryDeviationRepository)(nil)

func (r *memoryDeviationRepository) Create(ctx context.Context, d *models.Deviation, commit CommitFunc) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("deviation has no id: %w", apperrors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("deviation %s already exists: %w", d.ID, apperrors.ErrInvalidInput)
	}
	work := d.Clone()
	if err := runCommit(commit, work); err != nil {
		return err
	}
	r.byID[d.ID] = work
	r.order = append(r.order, d.ID)
	return nil
}

func (r *memoryDeviationRepository) Get(ctx context.Context, id string) (*models.Deviation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("deviation %s: %w", id, apperrors.ErrNotFound)
	}
	return d.Clone(), nil
}

func (r *memoryDeviationRepository) List(ctx context.Context, statuses ...models.DeviationStatus) ([]*models.Deviation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Deviation, 0, len(r.order))
	for _, id := range r.order {
		d := r.byID[id]
		if len(statuses) > 0 && !hasStatus(statuses, d.Status) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func hasStatus(list []models.DeviationStatus, s models.DeviationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *memoryDeviationRepository) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.DeviationStatus, at time.Time, commit CommitFunc) (*models.Deviation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("deviation %s: %w", id, apperrors.ErrNotFound)
	}
	if d.Status != expected {
		return nil, fmt.Errorf("deviation %s is %q, expected %q: %w", id, d.Status, expected, apperrors.ErrInvalidTransition)
	}
	work := d.Clone()
	work.Status = next
	work.UpdatedAt = at
	if err := runCommit(commit, work); err != nil {
		return nil, err
	}
	r.byID[id] = work
	return work.Clone(), nil
}

func (r *memoryDeviationRepository) Update(ctx context.Context, id string, fn func(d *models.Deviation) error, commit CommitFunc) (*models.Deviation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("deviation %s: %w", id, apperrors.ErrNotFound)
	}
	work := d.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	// Status is owned by CompareAndSwapStatus.
	work.ID = d.ID
	work.Status = d.Status
	if err := runCommit(commit, work); err != nil {
		return nil, err
	}
	r.byID[id] = work
	return work.Clone(), nil
}

func (r *memoryDeviationRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order), nil
}

func runCommit(commit CommitFunc, d *models.Deviation) error {
	if commit == nil {
		return nil
	}
	return commit(d.Clone())
}
