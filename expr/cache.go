package expr

import (
	"sync"
)

// Cache memoises compiled expressions by source id, so repeated script
// invocations inside the same state machine parse once.
type Cache struct {
	mu       sync.RWMutex
	compiled map[SourceID]Expression
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{compiled: map[SourceID]Expression{}}
}

// Compile returns the cached expression for src, parsing on first use.
// Parse failures are not cached; an erroring source is typically followed
// by an error.execution event and never re-run.
func (c *Cache) Compile(src Source) (Expression, error) {
	if src.ID != 0 {
		c.mu.RLock()
		e, ok := c.compiled[src.ID]
		c.mu.RUnlock()
		if ok {
			return e, nil
		}
	}
	e, err := Parse(src.Code)
	if err != nil {
		return nil, err
	}
	if src.ID != 0 {
		c.mu.Lock()
		c.compiled[src.ID] = e
		c.mu.Unlock()
	}
	return e, nil
}

// Len reports the number of cached expressions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}
