// Package ratelimit implements fixed-window limits with a block period:
// once a key spends its MaxRequests in a window it is refused for
// BlockDuration.
package ratelimit

import (
	"context"
	"time"

	"passgate/internal/config"
)

type Rule struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

func RuleFromConfig(r config.RateRule) Rule {
	return Rule{MaxRequests: r.MaxRequests, Window: r.Window, BlockDuration: r.BlockDuration}
}

type Limiter interface {
	// Allow counts one request for key. When it is refused, retryAfter
	// says how long the key stays blocked.
	Allow(ctx context.Context, key string, rule Rule) (allowed bool, retryAfter time.Duration, err error)
}
