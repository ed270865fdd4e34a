package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/store"
)

const keyPrefix = "bookwise:availability:"

// AvailabilityCache is a read-through cache in front of an AvailabilityRepository. Cached rule
// sets are only a hint: reservations read rules inside the provider transaction instead.
//
// Entries are keyed by a per-provider version that ReplaceRules bumps after the write commits.
// A fill always lands under the version read before loading, so a fill racing a replace can
// only populate a version nobody reads any more.
type AvailabilityCache struct {
	inner  store.AvailabilityRepository
	client goredis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

func NewAvailabilityCache(inner store.AvailabilityRepository, client goredis.UniversalClient, ttl time.Duration, log *slog.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &AvailabilityCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    log.With(slog.String("component", "availability_cache")),
	}
}

func versionKey(providerID string) string {
	return keyPrefix + "version:" + providerID
}

func rulesKey(providerID string, version int64) string {
	return keyPrefix + "rules:" + providerID + ":" + strconv.FormatInt(version, 10)
}

func (c *AvailabilityCache) ReplaceRules(ctx context.Context, providerID string, rules []domain.AvailabilityRule) ([]domain.AvailabilityRule, error) {
	out, err := c.inner.ReplaceRules(ctx, providerID, rules)
	if err != nil {
		return nil, err
	}
	version, err := c.client.Incr(ctx, versionKey(providerID)).Result()
	if err != nil {
		c.log.WarnContext(ctx, "availability cache invalidate failed", slog.String("provider_id", providerID), slog.Any("err", err))
		return out, nil
	}
	if err := c.client.Del(ctx, rulesKey(providerID, version-1)).Err(); err != nil {
		c.log.WarnContext(ctx, "availability cache cleanup failed", slog.String("provider_id", providerID), slog.Any("err", err))
	}
	return out, nil
}

func (c *AvailabilityCache) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	version, ok := c.version(ctx, providerID)
	if !ok {
		return c.inner.ListRules(ctx, providerID, dayOfWeek)
	}
	if rules, ok := c.get(ctx, providerID, version); ok {
		return filterDay(rules, dayOfWeek), nil
	}

	rules, err := c.inner.ListRules(ctx, providerID, nil)
	if err != nil {
		return nil, err
	}
	c.set(ctx, providerID, version, rules)
	return filterDay(rules, dayOfWeek), nil
}

func (c *AvailabilityCache) version(ctx context.Context, providerID string) (int64, bool) {
	v, err := c.client.Get(ctx, versionKey(providerID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, true
	}
	if err != nil {
		c.log.WarnContext(ctx, "availability cache read failed", slog.String("provider_id", providerID), slog.Any("err", err))
		return 0, false
	}
	return v, true
}

func (c *AvailabilityCache) get(ctx context.Context, providerID string, version int64) ([]domain.AvailabilityRule, bool) {
	b, err := c.client.Get(ctx, rulesKey(providerID, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.WarnContext(ctx, "availability cache read failed", slog.String("provider_id", providerID), slog.Any("err", err))
		return nil, false
	}
	var rules []domain.AvailabilityRule
	if err := json.Unmarshal(b, &rules); err != nil {
		c.log.WarnContext(ctx, "availability cache entry corrupt", slog.String("provider_id", providerID), slog.Any("err", err))
		return nil, false
	}
	return rules, true
}

func (c *AvailabilityCache) set(ctx context.Context, providerID string, version int64, rules []domain.AvailabilityRule) {
	b, err := json.Marshal(rules)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, rulesKey(providerID, version), b, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "availability cache write failed", slog.String("provider_id", providerID), slog.Any("err", err))
	}
}

func filterDay(rules []domain.AvailabilityRule, dayOfWeek *int) []domain.AvailabilityRule {
	out := make([]domain.AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		if dayOfWeek != nil && r.DayOfWeek != *dayOfWeek {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Check is a readiness probe.
func Check(client goredis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
