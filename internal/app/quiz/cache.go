package quiz

import (
	"sync"
	"time"
)

// CachedAnswer is the scoring data for one open attempt.
type CachedAnswer struct {
	QuestionID    int64 `json:"questionId"`
	CorrectOption int   `json:"correctOption"`
	TimeLimit     int   `json:"timeLimit"` // seconds
}

// AttemptCache remembers the scoring data for open attempts so the hot
// submit path avoids a question-bank read. Entries are advisory; a miss
// falls back to the database.
type AttemptCache interface {
	Put(attemptID int64, ans CachedAnswer, ttl time.Duration)
	Get(attemptID int64) (CachedAnswer, bool)
	Delete(attemptID int64)
}

// MemoryCache is the in-process AttemptCache used by default and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[int64]memoryEntry
}

type memoryEntry struct {
	ans       CachedAnswer
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]memoryEntry)}
}

func (c *MemoryCache) Put(attemptID int64, ans CachedAnswer, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[attemptID] = memoryEntry{ans: ans, expiresAt: time.Now().Add(ttl)}
}

func (c *MemoryCache) Get(attemptID int64) (CachedAnswer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[attemptID]
	if !ok || time.Now().After(e.expiresAt) {
		delete(c.entries, attemptID)
		return CachedAnswer{}, false
	}
	return e.ans, true
}

func (c *MemoryCache) Delete(attemptID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, attemptID)
}
