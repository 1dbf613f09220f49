// Package redis connects the go-redis client used by the distributed
// subscription lock in pkg/locker.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	lock := locker.NewRedis(client, locker.Config{})
package redis
