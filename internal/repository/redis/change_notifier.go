package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

const changeChannelPrefix = "kyc_changes:"

// ChangeNotifier fans change events out to clients watching a single user.
// Delivery is at-most-once; watchers re-read status on every event.
type ChangeNotifier struct {
	client *client.RedisClient
}

func NewChangeNotifier(client *client.RedisClient) *ChangeNotifier {
	return &ChangeNotifier{client: client}
}

func (n *ChangeNotifier) Notify(ctx context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if err := n.client.Publish(ctx, changeChannelPrefix+event.UserID, payload); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe delivers events for userID until ctx ends. The returned channel
// is closed afterwards.
func (n *ChangeNotifier) Subscribe(ctx context.Context, userID string) (<-chan models.ChangeEvent, error) {
	sub := n.client.Subscribe(ctx, changeChannelPrefix+userID)
	// wait for the subscription to be confirmed so no event is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan models.ChangeEvent, 8)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					util.Warn("Dropping malformed change event", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
