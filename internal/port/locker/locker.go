package locker

//go:generate mockgen -source=locker.go -destination=../../mocks/mock_advisory_locker.go -package=mocks

import "context"

// AdvisoryLocker serialises critical sections across every dispatcher process
// that shares the same backing store. Implementations: Postgres session
// advisory lock, Redis owner lock, in-process mutex.
type AdvisoryLocker interface {
	WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error
}
