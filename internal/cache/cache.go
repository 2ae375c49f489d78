package cache

import (
	"errors"
	"time"
)

var ErrUnknownKind = errors.New("cache: unknown analysis kind")

// Option customises a cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
