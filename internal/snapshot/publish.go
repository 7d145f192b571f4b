package snapshot

import (
	"context"
	"errors"
	"fmt"
)

// Producer hands encoded messages to the broker. Send returning nil means
// the message was accepted, not that the broker acknowledged it.
type Producer interface {
	Send(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

var errNoProducer = errors.New("no producer configured")

// Publish sends value to topic under the default key.
func (h *Handler) Publish(ctx context.Context, topic string, value any) error {
	return h.publish(ctx, topic, nil, false, value)
}

func (h *Handler) PublishKeyed(ctx context.Context, topic string, key, value any) error {
	return h.publish(ctx, topic, key, true, value)
}

func (h *Handler) publish(ctx context.Context, topic string, key any, keyed bool, value any) (err error) {
	defer func() { h.metrics.ObservePublish(topic, err) }()

	if h.producer == nil {
		return fmt.Errorf("publish %s: %w: %w", topic, ErrPublish, errNoProducer)
	}
	v, err := h.codec.encodeValue(value)
	if err != nil {
		return fmt.Errorf("publish %s: %w: value: %w", topic, ErrPublish, err)
	}
	k, err := h.codec.encodeKey(key, keyed)
	if err != nil {
		return fmt.Errorf("publish %s: %w: key: %w", topic, ErrPublish, err)
	}
	if err := h.producer.Send(ctx, topic, k, v); err != nil {
		h.log.Error("publish failed", "topic", topic, "err", err)
		return fmt.Errorf("publish %s: %w: %w", topic, ErrPublish, err)
	}
	return nil
}
