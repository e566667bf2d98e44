package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// DraftRepository retains the source data of unsigned report drafts until
// they are signed. Each draft can be taken exactly once.
type DraftRepository interface {
	// Save stores a draft under its RequestID.
	Save(ctx context.Context, d *models.DraftData) error

	// Take removes and returns the draft. A draft that was already taken
	// returns ErrInvalidTransition; an id never saved returns ErrNotFound.
	Take(ctx context.Context, requestID string) (*models.DraftData, error)

	// Restore puts back a draft taken by a signing attempt that failed.
	Restore(ctx context.Context, d *models.DraftData) error

	// Finalize marks a taken draft as signed so it cannot be restored.
	Finalize(ctx context.Context, requestID string) error

	// Get returns a copy of a pending draft without taking it.
	Get(ctx context.Context, requestID string) (*models.DraftData, error)
}

type draftState int

const (
	draftPending draftState = iota
	draftTaken
	draftSigned
)

type memoryDraftRepository struct {
	mu     sync.Mutex
	drafts map[string]*models.DraftData
	state  map[string]draftState
}

// NewDraftRepository creates an empty in-memory draft store.
func NewDraftRepository() DraftRepository {
	return &memoryDraftRepository{
		drafts: make(map[string]*models.DraftData),
		state:  make(map[string]draftState),
	}
}

var _ DraftRepository = (*memoryDraftRepository)(nil)

func (r *memoryDraftRepository) Save(ctx context.Context, d *models.DraftData) error {
	if d == nil || d.RequestID == "" {
		return fmt.Errorf("draft has no request id: %w", apperrors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.state[d.RequestID]; exists {
		return fmt.Errorf("draft %s already exists: %w", d.RequestID, apperrors.ErrInvalidInput)
	}
	r.drafts[d.RequestID] = d
	r.state[d.RequestID] = draftPending
	return nil
}

func (r *memoryDraftRepository) Take(ctx context.Context, requestID string) (*models.DraftData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[requestID]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", requestID, apperrors.ErrNotFound)
	}
	if st != draftPending {
		return nil, fmt.Errorf("draft %s was already consumed: %w", requestID, apperrors.ErrInvalidTransition)
	}
	d := r.drafts[requestID]
	delete(r.drafts, requestID)
	r.state[requestID] = draftTaken
	return d, nil
}

func (r *memoryDraftRepository) Restore(ctx context.Context, d *models.DraftData) error {
	if d == nil {
		return fmt.Errorf("nil draft: %w", apperrors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state[d.RequestID] != draftTaken {
		return fmt.Errorf("draft %s is not awaiting signature: %w", d.RequestID, apperrors.ErrInvalidTransition)
	}
	r.drafts[d.RequestID] = d
	r.state[d.RequestID] = draftPending
	return nil
}

func (r *memoryDraftRepository) Finalize(ctx context.Context, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state[requestID] != draftTaken {
		return fmt.Errorf("draft %s is not awaiting signature: %w", requestID, apperrors.ErrInvalidTransition)
	}
	r.state[requestID] = draftSigned
	return nil
}

func (r *memoryDraftRepository) Get(ctx context.Context, requestID string) (*models.DraftData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drafts[requestID]
	if !ok {
		if _, known := r.state[requestID]; known {
			return nil, fmt.Errorf("draft %s was already consumed: %w", requestID, apperrors.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("draft %s: %w", requestID, apperrors.ErrNotFound)
	}
	c := *d
	return &c, nil
}
