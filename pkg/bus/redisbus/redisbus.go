// Package redisbus is the cross-process alternative to pkg/bus's
// in-process EventBus: when Engine Workers run in their own processes
// instead of inside the coordinator, their outputs have to cross a
// process boundary to reach the Engine Manager. It uses
// github.com/redis/go-redis/v9 pub/sub behind the same Message/Handler
// shape as pkg/bus.EventBus, so the Manager's subscriber code does not
// need to know which transport it runs over.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"orchestrator/pkg/bus"
	"orchestrator/pkg/logx"
)

// Bus publishes and receives bus.Message values over a Redis pub/sub
// channel. A remote Engine Worker process publishes its output here; the
// coordinator process runs Run in a goroutine to forward received messages
// into its local in-process EventBus, where the Engine Manager's single
// subscriber picks them up exactly as it would an in-process worker's
// output.
type Bus struct {
	client  *redis.Client
	channel string
	log     *logx.Logger
}

// New connects to a Redis server at redisURL and returns a Bus bound to
// channel. redisURL follows redis.ParseURL's scheme, e.g.
// "redis://localhost:6379/0".
func New(redisURL, channel string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Bus{
		client:  redis.NewClient(opts),
		channel: channel,
		log:     logx.NewLogger("redisbus"),
	}, nil
}

// Publish serializes msg and publishes it to the configured channel. A
// remote Engine Worker calls this in place of an in-process
// *bus.EventBus.Publish.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to redis channel %s: %w", b.channel, err)
	}
	return nil
}

// Run subscribes to the channel and forwards every received message into
// local by calling local.Publish, until ctx is canceled. Intended to run in
// its own goroutine in the coordinator process, bridging remote workers'
// output into the Manager's existing in-process subscription.
func (b *Bus) Run(ctx context.Context, local *bus.EventBus) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rmsg, ok := <-ch:
			if !ok {
				return nil
			}
			var msg bus.Message
			if err := json.Unmarshal([]byte(rmsg.Payload), &msg); err != nil {
				b.log.Error("decode redis bus message: %v", err)
				continue
			}
			local.Publish(msg)
		}
	}
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}
