package spoolcache

import "time"

const (
	defaultQueueCapacity    = 2048
	defaultAppendTimeout    = 50 * time.Millisecond
	defaultDisposeTimeout   = 5 * time.Second
	defaultFailureThreshold = 3
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
