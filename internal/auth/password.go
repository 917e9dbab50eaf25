package auth

import (
	"context"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher hashes and verifies plaintext passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, hashed string) bool
}

// BcryptHasher is a PasswordHasher backed by bcrypt. The number of hashing
// operations running at once is bounded so a burst of logins cannot starve
// the rest of the server of CPU.
type BcryptHasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewBcryptHasher builds a hasher with the given cost. Out of range costs
// fall back to bcrypt.DefaultCost; maxConcurrent < 1 means one slot per CPU.
func NewBcryptHasher(cost, maxConcurrent int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if maxConcurrent < 1 {
		maxConcurrent = runtime.NumCPU()
	}
	return &BcryptHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Hash returns a salted bcrypt hash of plaintext. Two calls with the same
// input return different hashes.
func (h *BcryptHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hashed. A malformed hash, or a
// context cancelled while waiting for a slot, yields false.
func (h *BcryptHasher) Verify(ctx context.Context, plaintext, hashed string) bool {
	if hashed == "" {
		return false
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)) == nil
}
