// Package redis connects go-redis clients from REDIS_* configuration and
// exposes a readiness probe. The usage counters are the main consumer.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
