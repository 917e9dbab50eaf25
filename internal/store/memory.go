package store

import (
	"context"
	"sync"
	"time"

	"github.com/jjudge-oj/authserver/types"
)

// MemoryUserRepository keeps users in process memory. It is meant for local
// runs and tests; data is lost on restart.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	nextID  int
	byEmail map[string]types.User
	byID    map[int]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		nextID:  1,
		byEmail: make(map[string]types.User),
		byID:    make(map[int]string),
	}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	email, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.byEmail[email], nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byEmail[email]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return types.User{}, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.nextID++

	r.byEmail[user.Email] = user
	r.byID[user.ID] = user.Email
	return user, nil
}
