package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder increments hash counters in Redis:
//
//	<prefix>:total              ok / failed
//	<prefix>:verb               <VERB>:ok / <VERB>:failed
//	<prefix>:kind               <kind>
//	<prefix>:minute:<YYYYMMDDhhmm>  ok / failed, expiring after ttl
type RedisRecorder struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) { r.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of per-minute buckets. Totals never expire.
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

func NewRedisRecorder(rdb redis.Cmdable, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "stockd:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "failed"
	if ev.OK {
		field = "ok"
	}

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	if verb := strings.TrimSpace(ev.Verb); verb != "" {
		pipe.HIncrBy(ctx, r.prefix+":verb", verb+":"+field, 1)
	}
	if !ev.OK && ev.Kind != "" {
		pipe.HIncrBy(ctx, r.prefix+":kind", ev.Kind, 1)
	}

	bucketKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals reads back the cumulative counters.
func (r *RedisRecorder) Totals(ctx context.Context) (Counters, error) {
	vals, err := r.rdb.HGetAll(ctx, r.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}

	var c Counters
	if c.OK, err = parseCount(vals["ok"]); err != nil {
		return Counters{}, err
	}
	if c.Failed, err = parseCount(vals["failed"]); err != nil {
		return Counters{}, err
	}
	return c, nil
}

func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
