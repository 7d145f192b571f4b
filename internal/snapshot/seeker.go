package snapshot

import (
	"context"
	"fmt"

	"topicsnap/source/kafka"
)

type seekMode int

const (
	seekNone seekMode = iota
	seekLatest
	seekBeginning
)

func (m seekMode) String() string {
	switch m {
	case seekLatest:
		return "latest"
	case seekBeginning:
		return "beginning"
	default:
		return "position"
	}
}

// SeekToLatestAvailable positions each partition on its newest record
// (End-1). Partitions that never held a record, or whose retained range is
// empty, are left where they are.
func (h *Handler) SeekToLatestAvailable(ctx context.Context, partitions []kafka.TopicPartition, bounds map[kafka.TopicPartition]Bounds) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seekLatest(ctx, partitions, bounds)
}

func (h *Handler) seekLatest(ctx context.Context, partitions []kafka.TopicPartition, bounds map[kafka.TopicPartition]Bounds) error {
	for _, tp := range partitions {
		b, ok := bounds[tp]
		if !ok {
			return fmt.Errorf("seek %s: %w: no bounds captured", tp, ErrPartitionQuery)
		}
		if b.End <= 0 || b.Empty() {
			continue
		}
		if err := h.client.Seek(ctx, tp, b.End-1); err != nil {
			return brokerErr("seek "+tp.String(), err)
		}
		h.log.Debug("seeked to latest", "topic", tp.Topic, "partition", tp.Partition, "offset", b.End-1)
	}
	return nil
}

// SeekToBeginning positions each partition on its oldest retained record.
func (h *Handler) SeekToBeginning(ctx context.Context, partitions []kafka.TopicPartition, bounds map[kafka.TopicPartition]Bounds) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seekBeginning(ctx, partitions, bounds)
}

func (h *Handler) seekBeginning(ctx context.Context, partitions []kafka.TopicPartition, bounds map[kafka.TopicPartition]Bounds) error {
	for _, tp := range partitions {
		b, ok := bounds[tp]
		if !ok {
			return fmt.Errorf("seek %s: %w: no bounds captured", tp, ErrPartitionQuery)
		}
		if err := h.client.Seek(ctx, tp, b.Begin); err != nil {
			return brokerErr("seek "+tp.String(), err)
		}
	}
	return nil
}
