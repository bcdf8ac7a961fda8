package idempotency

import "context"

// Store remembers the result of an operation under a client-supplied key so a
// retried request replays the first result instead of running again.
type Store interface {
	// Reserve claims key before the operation runs. It reports false when the
	// key is already held, whether still pending or completed.
	Reserve(ctx context.Context, key, operation string) (bool, error)
	// Check returns the stored result for key and whether the key exists. A
	// reserved key with no result yet is found with a nil result.
	Check(ctx context.Context, key string) ([]byte, bool, error)
	// Save records result under key. A key that already has a result is left
	// untouched.
	Save(ctx context.Context, key, operation string, result []byte) error
	// Release drops a reservation that never got a result, so the operation
	// can be retried.
	Release(ctx context.Context, key string) error
}
