// Package redis connects to Redis through go-redis with retries, exposes a
// readiness probe and builds namespaced keys. The saga store and the stream
// transport share one client created here.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	key := redis.Key(cfg.KeyPrefix, "saga", correlationID)
package redis
