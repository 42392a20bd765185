package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charlesng35/gatekeeper/internal/cache"
)

// DefaultEffectiveTTL bounds how long a cached effective set survives without
// explicit invalidation. The TTL is a safety net; correctness relies on the
// owning services calling Invalidate when assignments change.
const DefaultEffectiveTTL = 5 * time.Minute

const (
	globalGenerationKey  = "authz:gen"
	userGenerationKeyFmt = "authz:gen:%s"
	effectiveSetKeyFmt   = "authz:effective:%s:%s" // generation token, user id
	generationRetention  = 24 * time.Hour
)

// EffectiveCache memoises per-user effective permission sets on top of a
// shared cache.Store. Entries are keyed by a generation token combining a
// global and a per-user counter: Invalidate and InvalidateAll bump their
// counter, so a SetEffective racing an invalidation writes under the
// superseded token and is never read again.
type EffectiveCache struct {
	store cache.Store
	ttl   time.Duration
}

// NewEffectiveCache wraps the supplied store. A non-positive TTL falls back
// to DefaultEffectiveTTL.
func NewEffectiveCache(store cache.Store, ttl time.Duration) *EffectiveCache {
	if ttl <= 0 {
		ttl = DefaultEffectiveTTL
	}
	return &EffectiveCache{store: store, ttl: ttl}
}

// GetEffective returns the cached effective set for the user along with the
// generation token the caller must pass back to SetEffective. The token is
// returned on a miss too, pinned before the caller starts loading data.
func (c *EffectiveCache) GetEffective(ctx context.Context, userID string) ([]string, string, bool, error) {
	token, err := c.generationToken(ctx, userID)
	if err != nil {
		return nil, "", false, err
	}

	payload, ok, err := c.store.Get(ctx, effectiveKey(token, userID))
	if err != nil || !ok {
		return nil, token, false, err
	}

	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		// undecodable entries count as a miss and get overwritten
		return nil, token, false, nil
	}
	return names, token, true, nil
}

// SetEffective caches the effective set under the generation token observed
// by the preceding GetEffective. If an invalidation bumped either counter
// in the meantime, the write lands on a dead key and stays invisible.
func (c *EffectiveCache) SetEffective(ctx context.Context, userID, token string, names []string, ttl time.Duration) error {
	if token == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	payload, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("effective cache: marshal: %w", err)
	}
	return c.store.Set(ctx, effectiveKey(token, userID), payload, ttl)
}

// Invalidate discards the user's cached effective set by bumping their
// generation counter.
func (c *EffectiveCache) Invalidate(ctx context.Context, userID string) error {
	key := fmt.Sprintf(userGenerationKeyFmt, userID)
	_, _, err := c.store.IncrementWithTTL(ctx, key, generationRetention)
	return err
}

// InvalidateAll discards every cached effective set by bumping the global
// generation counter.
func (c *EffectiveCache) InvalidateAll(ctx context.Context) error {
	_, _, err := c.store.IncrementWithTTL(ctx, globalGenerationKey, generationRetention)
	return err
}

// generationToken combines the global and per-user generation counters. An
// absent counter reads as generation zero; counters expire together with the
// entries they key, long after the effective TTL, so an expired counter can
// only alias keys whose entries lapsed earlier.
func (c *EffectiveCache) generationToken(ctx context.Context, userID string) (string, error) {
	global, err := c.generation(ctx, globalGenerationKey)
	if err != nil {
		return "", err
	}

	user, err := c.generation(ctx, fmt.Sprintf(userGenerationKeyFmt, userID))
	if err != nil {
		return "", err
	}

	return global + "/" + user, nil
}

func (c *EffectiveCache) generation(ctx context.Context, key string) (string, error) {
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "0", nil
	}
	return string(value), nil
}

func effectiveKey(token, userID string) string {
	return fmt.Sprintf(effectiveSetKeyFmt, token, userID)
}
