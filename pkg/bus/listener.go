package bus

import (
	"context"
	"encoding/json"

	"github.com/hemostat/hemostat/pkg/models"
)

// Handler processes one decoded envelope. Handlers run to completion
// before the next message is dispatched, which preserves per-channel
// ordering; they must not panic and should log their own failures.
type Handler func(ctx context.Context, env *models.Envelope)

// Listen subscribes to the handler map's channels and dispatches messages
// until ctx is cancelled. Malformed payloads are logged and dropped; they
// never poison the loop. On cancellation the subscription is closed and
// ctx.Err() is returned.
func (c *Client) Listen(ctx context.Context, handlers map[string]Handler) error {
	channels := make([]string, 0, len(handlers))
	for ch := range handlers {
		channels = append(channels, ch)
	}

	sub := c.rdb.Subscribe(ctx, channels...)
	defer func() {
		_ = sub.Unsubscribe(context.WithoutCancel(ctx), channels...)
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	c.logger.Info("Subscribed to channels", "channels", channels)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Listener stopping")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("Subscription channel closed")
				return nil
			}
			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.logger.Error("Dropping malformed bus message",
					"channel", msg.Channel, "error", err)
				continue
			}
			handler, ok := handlers[msg.Channel]
			if !ok {
				continue
			}
			c.logger.Debug("Received event",
				"channel", msg.Channel, "event_type", env.EventType)
			handler(ctx, &env)
		}
	}
}
