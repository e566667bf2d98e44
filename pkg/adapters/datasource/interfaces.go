package datasource

import (
	"context"

	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// Dataset keys served by every provider.
const (
	KeyHPLC       = "hplc"
	KeyDeviations = "deviations"
	KeyStability  = "stability"
	KeyAudit      = "audit"
)

// TableProvider supplies tabular datasets by key.
//
// Get returns a value the caller owns: mutating the returned table never
// affects the provider or later calls. Unknown keys return ErrNotFound.
type TableProvider interface {
	Get(ctx context.Context, key string) (*models.Table, error)

	// Keys lists the datasets the provider can serve, sorted.
	Keys() []string
}
