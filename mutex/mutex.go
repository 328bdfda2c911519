// Package mutex defines the distributed try-lock used to single-flight
// the self-healing sweeper across horizontally scaled control-plane
// processes. It is deliberately not used on the request-serving path,
// which relies entirely on row-level atomicity in the job store.
package mutex

import "context"

// Locker is a named, non-blocking distributed lock.
type Locker interface {
	// TryAcquire attempts to take the named lock without blocking. On
	// success it returns a release function and ok=true; when another
	// holder has the lock it returns ok=false with a nil release.
	TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error)
}
