package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// AuditRepository is the append-only audit ledger store.
type AuditRepository interface {
	// Append assigns the next sequence number, a UTC timestamp and the hash
	// chain link, then stores the entry. User and Action must be non-empty.
	Append(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error)

	// List returns copies of all entries in ascending sequence order.
	List(ctx context.Context) ([]*models.AuditEntry, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}

// Clock returns the current time. Injected so tests can control timestamps.
type Clock func() time.Time

type memoryAuditRepository struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
	now     Clock
}

// NewAuditRepository creates an empty in-memory ledger. A nil clock uses time.Now.
func NewAuditRepository(now Clock) AuditRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryAuditRepository{now: now}
}

var _ AuditRepository = (*memoryAuditRepository)(nil)

// GenesisHash is the PrevHash of the first ledger entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

func (r *memoryAuditRepository) Append(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error) {
	if user == "" {
		return nil, fmt.Errorf("audit entry has no user: %w", apperrors.ErrInvalidEntry)
	}
	if action == "" {
		return nil, fmt.Errorf("audit entry has no action: %w", apperrors.ErrInvalidEntry)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rid *string
	if recordID != nil {
		v := *recordID
		rid = &v
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := GenesisHash
	if n := len(r.entries); n > 0 {
		prev = r.entries[n-1].Hash
	}
	entry := &models.AuditEntry{
		Sequence:  uint64(len(r.entries) + 1),
		Timestamp: r.now().UTC(),
		User:      user,
		Action:    action,
		RecordID:  rid,
		Details:   details,
		PrevHash:  prev,
	}
	entry.Hash = HashAuditEntry(entry)
	r.entries = append(r.entries, entry)

	return copyEntry(entry), nil
}

func (r *memoryAuditRepository) List(ctx context.Context) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.AuditEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = copyEntry(e)
	}
	return out, nil
}

func (r *memoryAuditRepository) Len(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}

func copyEntry(e *models.AuditEntry) *models.AuditEntry {
	c := *e
	if e.RecordID != nil {
		v := *e.RecordID
		c.RecordID = &v
	}
	return &c
}

// HashAuditEntry computes the SHA-256 link over the entry contents and its
// PrevHash. The Hash field itself is not part of the input.
func HashAuditEntry(e *models.AuditEntry) string {
	h := sha256.New()
	write := func(s string) {
		// Length-prefix every field so no two entries share an encoding.
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(strconv.FormatUint(e.Sequence, 10))
	write(e.Timestamp.UTC().Format(time.RFC3339Nano))
	write(e.User)
	write(e.Action)
	if e.RecordID != nil {
		write("1")
		write(*e.RecordID)
	} else {
		write("0")
	}
	write(e.Details)
	write(e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}
