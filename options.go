// Copyright 2026 The asyncrt Authors
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// defaultBacklog is the listener backlog used when WithBacklog is not
// supplied, and when ListenTCP/ListenPipe are given backlog <= 0.
const defaultBacklog = 128

// loopOptions holds configuration resolved from a LoopOption slice.
type loopOptions struct {
	backlog     int
	rateLimiter *catrate.Limiter
	logger      *logiface.Logger[*stumpy.Event]
}

// LoopOption configures a Loop at construction time.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithBacklog sets the listener backlog used by ListenTCP/ListenPipe when
// their own backlog argument is <= 0.
func WithBacklog(n int) LoopOption {
	return &loopOptionImpl{func(o *loopOptions) error {
		if n > 0 {
			o.backlog = n
		}
		return nil
	}}
}

// WithRateLimiter installs a shared rate limiter used to suppress log
// storms from recurring, load-expected events (reactor poll errors and
// wake-fd signalling failures) without affecting the underlying operation.
func WithRateLimiter(l *catrate.Limiter) LoopOption {
	return &loopOptionImpl{func(o *loopOptions) error {
		o.rateLimiter = l
		return nil
	}}
}

// WithLogger overrides the structured logger used by this Loop. Defaults to
// the package-level logger set via SetLogger (or the no-op default).
func WithLogger(l *logiface.Logger[*stumpy.Event]) LoopOption {
	return &loopOptionImpl{func(o *loopOptions) error {
		o.logger = l
		return nil
	}}
}

// resolveLoopOptions applies opts over the documented defaults.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		backlog: defaultBacklog,
		logger:  logger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.rateLimiter == nil {
		// One event/sec per category is enough to de-duplicate storms
		// without hiding a genuinely new category of failure.
		cfg.rateLimiter = catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
		})
	}
	return cfg, nil
}
