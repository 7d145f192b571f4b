package kafka

import (
	"context"
	"errors"
	"fmt"

	"topicsnap/sink"
)

// Config of the kafka result sink. Topic must be one of the job's produced
// topics.
type Config struct {
	Topic string `yaml:"topic"`
	Key   string `yaml:"key"` // empty = default key
}

// driver writes every frame back to Kafka through the job's publisher.
type driver struct {
	cfg Config
	pub sink.Publisher
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if cfg.Topic == "" {
		return errors.New("kafka-sink: topic is required")
	}
	d.cfg = cfg
	return nil
}

func (d *driver) BindPublisher(p sink.Publisher) { d.pub = p }

func (d *driver) Push(ctx context.Context, f sink.Frame) error {
	if d.pub == nil {
		return fmt.Errorf("kafka-sink: no publisher bound for %s", d.cfg.Topic)
	}
	if d.cfg.Key != "" {
		return d.pub.PublishKeyed(ctx, d.cfg.Topic, d.cfg.Key, f)
	}
	return d.pub.Publish(ctx, d.cfg.Topic, f)
}

// Close leaves the publisher open; the job owns it.
func (d *driver) Close() error { return nil }

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
