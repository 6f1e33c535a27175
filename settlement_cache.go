package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// SettlementCache makes SettlePayment idempotent for identical payloads.
// Successful settlements are kept for ttl; a duplicate that arrives while the
// first is still in flight waits for it instead of reaching the facilitator.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]cachedSettlement
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

type cachedSettlement struct {
	response SettleResponse
	expires  time.Time
}

// NewSettlementCache creates a new settlement cache with the specified TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]cachedSettlement),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SettlementKey derives the cache key for a payload/requirements pair.
// The payload carries the signature and nonce, so the key is unique per payment attempt.
func SettlementKey(payload PaymentPayload, requirements PaymentRequirements) (string, error) {
	data, err := json.Marshal(struct {
		Payload      PaymentPayload      `json:"p"`
		Requirements PaymentRequirements `json:"r"`
	}{payload, requirements})
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Acquire returns a cached response for key, or claims key for the caller.
//
// When the returned response is non-nil the caller must not settle again.
// Otherwise the caller owns the key and must call done exactly once: with the
// successful response to cache it, or with nil to release the key on failure.
func (c *SettlementCache) Acquire(ctx context.Context, key string) (*SettleResponse, func(*SettleResponse), error) {
	for {
		c.mu.Lock()
		if cached, ok := c.lookupLocked(key); ok {
			c.mu.Unlock()
			return &cached, nil, nil
		}

		wait, busy := c.inFlight[key]
		if !busy {
			done := make(chan struct{})
			c.inFlight[key] = done
			c.mu.Unlock()
			return nil, c.releaser(key, done), nil
		}
		c.mu.Unlock()

		select {
		case <-wait:
			// the other settlement finished; re-check for its result
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// Get retrieves a cached settlement response if it exists and hasn't expired.
func (c *SettlementCache) Get(key string) (SettleResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

func (c *SettlementCache) releaser(key string, done chan struct{}) func(*SettleResponse) {
	var once sync.Once
	return func(response *SettleResponse) {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			if response != nil {
				c.results[key] = cachedSettlement{response: *response, expires: c.now().Add(c.ttl)}
			}
			delete(c.inFlight, key)
			close(done)
			c.cleanupExpiredLocked()
		})
	}
}

// lookupLocked must be called with the lock held.
func (c *SettlementCache) lookupLocked(key string) (SettleResponse, bool) {
	cached, ok := c.results[key]
	if !ok {
		return SettleResponse{}, false
	}
	if c.now().After(cached.expires) {
		delete(c.results, key)
		return SettleResponse{}, false
	}
	return cached.response, true
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *SettlementCache) cleanupExpiredLocked() {
	now := c.now()
	for key, cached := range c.results {
		if now.After(cached.expires) {
			delete(c.results, key)
		}
	}
}
