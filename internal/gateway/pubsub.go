package gateway

import (
	"context"

	goredis "github.com/go-redis/redis/v8"

	redisstore "kama-scannerv1/internal/store/redis"
)

// RunRedisRelay subscribes to every symbol's signal channel and feeds the
// messages into the hub. Blocks until ctx is cancelled.
func (h *Hub) RunRedisRelay(ctx context.Context, rdb *goredis.Client) {
	pattern := redisstore.ChannelKey("*")
	pubsub := rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	h.log.Info("relaying redis signals", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
