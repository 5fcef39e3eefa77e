// Package ratelimiter limits how fast clients may submit events.
//
// It implements a token bucket: each key starts with Capacity tokens and
// regains RefillRate tokens every RefillInterval, never exceeding Capacity.
// MemoryStore keeps buckets per process. RedisStore keeps them in Redis and
// updates them with a Lua script, so every replica of the service enforces
// one shared limit.
//
//	bucket, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(client), cfg)
//	if err != nil {
//		return err
//	}
//	r.With(ratelimiter.Middleware(bucket, ratelimiter.ByRemoteIP, log)).Post("/events", h)
package ratelimiter
