// Package cache holds small in-process caches with expiry.
package cache

import "time"

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get returns a value that has not expired yet.
	Get(key string) (T, bool)

	// GetStale returns the value even if it expired, with the time it was stored.
	GetStale(key string) (T, time.Time, bool)

	Set(key string, data T)
	Delete(key string)
	Size() int
}
