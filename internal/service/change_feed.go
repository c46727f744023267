package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"kyc-service/internal/models"
)

type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type ChangeNotifier interface {
	Notify(ctx context.Context, event models.ChangeEvent) error
}

// ChangeFeed publishes change events to the Kafka topic read by the
// reconciler and to the per-user Redis channel read by watching clients.
// Either side may be nil.
type ChangeFeed struct {
	producer MessageProducer
	notifier ChangeNotifier
	topic    string
}

func NewChangeFeed(producer MessageProducer, notifier ChangeNotifier, topic string) *ChangeFeed {
	return &ChangeFeed{producer: producer, notifier: notifier, topic: topic}
}

func (f *ChangeFeed) Publish(ctx context.Context, event models.ChangeEvent) error {
	var errs []error

	if f.producer != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode change event: %w", err)
		}
		headers := map[string]string{"table": event.Table, "event": event.Event}
		if err := f.producer.ProduceMessage(ctx, f.topic, []byte(event.UserID), payload, headers); err != nil {
			errs = append(errs, err)
		}
	}
	if f.notifier != nil {
		if err := f.notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
