package nodepool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/erawatcher/internal/core/config"
	"github.com/vietddude/erawatcher/internal/core/domain"
)

// DefaultRetryConfig is used when the configured attempts are zero.
var DefaultRetryConfig = config.RetryConfig{
	MaxAttempts:     5,
	InitialDelay:    2 * time.Second,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
}

// ProbeWithRetry probes until a quorum is reached, backing off exponentially
// between attempts. Errors other than insufficient quorum stop immediately.
func (p *Pool) ProbeWithRetry(ctx context.Context) (uint64, error) {
	cfg := p.cfg.ProbeRetry
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		height, err := p.Probe(ctx)
		if err == nil {
			return height, nil
		}

		lastErr = err
		if !errors.Is(err, domain.ErrInsufficientQuorum) {
			return 0, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := calculateBackoff(attempt, cfg)
		p.logger.Warn("Probe below quorum, backing off",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.after(delay):
		}
	}

	return 0, fmt.Errorf("probe failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func calculateBackoff(attempt int, cfg config.RetryConfig) time.Duration {
	multiple := cfg.BackoffMultiple
	if multiple < 1 {
		multiple = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiple, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
