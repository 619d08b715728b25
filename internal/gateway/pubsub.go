package gateway

import (
	"context"
	"encoding/json"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// PubSubRouter relays signal batches published on a Redis channel to the
// hub, so every gateway attached to the same Redis sees the same batches.
type PubSubRouter struct {
	hub     *Hub
	rdb     *goredis.Client
	channel string
}

// NewPubSubRouter creates a router for channel.
func NewPubSubRouter(hub *Hub, rdb *goredis.Client, channel string) *PubSubRouter {
	return &PubSubRouter{hub: hub, rdb: rdb, channel: channel}
}

// Run subscribes and relays messages. Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	log.Printf("[gateway] subscribed to %s", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.route([]byte(msg.Payload))
		}
	}
}

// route forwards signal batches. Views reach the hub directly from the
// engine and are not relayed a second time.
func (r *PubSubRouter) route(payload []byte) {
	var m struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		log.Printf("[gateway] bad pubsub payload: %v", err)
		return
	}
	if m.Type != TypeSignals || len(m.Data) == 0 {
		return
	}
	r.hub.Broadcast(TypeSignals, m.Data)
}
