// Package provision remembers which users already own a workspace so that
// personal-workspace provisioning can skip the database on the hot path.
package provision

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryCache is a process-local set of provisioned users.
type MemoryCache struct {
	mu    sync.RWMutex
	users map[uuid.UUID]struct{}
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{users: map[uuid.UUID]struct{}{}}
}

func (c *MemoryCache) Contains(_ context.Context, userID uuid.UUID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.users[userID]
	return ok, nil
}

func (c *MemoryCache) Add(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userID] = struct{}{}
	return nil
}

// Clear forgets every user. Tests call it between cases.
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = map[uuid.UUID]struct{}{}
	return nil
}

// Len reports the number of cached users.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}
