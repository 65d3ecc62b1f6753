package verify

import (
	"context"
	"sync"

	"github.com/sells-group/leadgen/internal/model"
)

type cacheKey struct {
	stage   model.VerificationStage
	subject string
}

// MemoryCache is an in-process Cache keyed by (stage, subject).
type MemoryCache struct {
	mu      sync.RWMutex
	records map[cacheKey]model.VerificationRecord
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[cacheKey]model.VerificationRecord)}
}

// GetVerification implements Cache.
func (c *MemoryCache) GetVerification(_ context.Context, stage model.VerificationStage, subject string) (*model.VerificationRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[cacheKey{stage, subject}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// PutVerification implements Cache, replacing any existing record.
func (c *MemoryCache) PutVerification(_ context.Context, rec model.VerificationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[cacheKey{rec.Stage, rec.Subject}] = rec
	return nil
}

// Len returns the number of cached records.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
