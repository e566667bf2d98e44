package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/retry"
)

// RetryingProvider retries transient failures of the wrapped provider with
// exponential backoff. Caller errors such as unknown keys are not retried.
type RetryingProvider struct {
	next   TableProvider
	cfg    *retry.Config
	logger *zap.Logger
}

// NewRetryingProvider wraps next. A nil cfg uses retry.DefaultConfig.
func NewRetryingProvider(next TableProvider, cfg *retry.Config, logger *zap.Logger) *RetryingProvider {
	return &RetryingProvider{
		next:   next,
		cfg:    cfg,
		logger: logger.Named("datasource"),
	}
}

var _ TableProvider = (*RetryingProvider)(nil)

// Get delegates to the wrapped provider, retrying transient errors.
func (p *RetryingProvider) Get(ctx context.Context, key string) (*models.Table, error) {
	attempt := 0
	t, err := retry.DoWithResult(ctx, p.cfg, func() (*models.Table, error) {
		attempt++
		t, err := p.next.Get(ctx, key)
		if err != nil && retry.IsRetryable(err) {
			p.logger.Warn("Transient dataset read failure",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %q: %w", key, err)
	}
	return t, nil
}

// Keys delegates to the wrapped provider.
func (p *RetryingProvider) Keys() []string {
	return p.next.Keys()
}
