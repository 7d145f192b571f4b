package snapshot

import (
	"context"
	"slices"

	"topicsnap/source/kafka"
)

// Bounds is one partition's offset range at capture time. End is exclusive.
type Bounds struct {
	Begin int64 `json:"begin"`
	End   int64 `json:"end"`
}

func (b Bounds) Empty() bool { return b.Begin >= b.End }

// IsDrained reports whether every target partition has been read up to its
// captured end offset. Empty partitions are drained without a position.
func IsDrained(position map[kafka.TopicPartition]int64, bounds map[kafka.TopicPartition]Bounds, targets []kafka.TopicPartition) bool {
	return len(undrained(position, bounds, targets)) == 0
}

func undrained(position map[kafka.TopicPartition]int64, bounds map[kafka.TopicPartition]Bounds, targets []kafka.TopicPartition) []kafka.TopicPartition {
	var left []kafka.TopicPartition
	for _, tp := range targets {
		b := bounds[tp]
		if b.Empty() {
			continue
		}
		if pos, ok := position[tp]; !ok || pos < b.End {
			left = append(left, tp)
		}
	}
	return left
}

// DiscoverPartitions lists the partitions of every topic. It fails with a
// *TopicNotFoundError before any partition query when a topic is missing.
func (h *Handler) DiscoverPartitions(ctx context.Context, topics []string) (map[string][]kafka.TopicPartition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.discover(ctx, topics)
}

func (h *Handler) discover(ctx context.Context, topics []string) (map[string][]kafka.TopicPartition, error) {
	if err := h.verifyTopics(ctx, topics); err != nil {
		return nil, err
	}
	out := make(map[string][]kafka.TopicPartition, len(topics))
	for _, topic := range topics {
		parts, err := h.client.Partitions(ctx, topic)
		if err != nil {
			return nil, brokerErr("partitions "+topic, err)
		}
		slices.Sort(parts)
		tps := make([]kafka.TopicPartition, 0, len(parts))
		for _, p := range parts {
			tps = append(tps, kafka.TopicPartition{Topic: topic, Partition: p})
		}
		out[topic] = tps
	}
	return out, nil
}

func (h *Handler) verifyTopics(ctx context.Context, topics []string) error {
	catalog, err := h.client.Topics(ctx)
	if err != nil {
		return brokerErr("list topics", err)
	}
	var missing []string
	for _, t := range topics {
		if !slices.Contains(catalog, t) {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &TopicNotFoundError{Topics: missing}
	}
	return nil
}

// BoundsFor captures the offset range of each partition once. Callers that
// need a fresher view call it again.
func (h *Handler) BoundsFor(ctx context.Context, partitions []kafka.TopicPartition) (map[kafka.TopicPartition]Bounds, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds(ctx, partitions)
}

func (h *Handler) bounds(ctx context.Context, partitions []kafka.TopicPartition) (map[kafka.TopicPartition]Bounds, error) {
	out := make(map[kafka.TopicPartition]Bounds, len(partitions))
	for _, tp := range partitions {
		begin, end, err := h.client.Offsets(ctx, tp)
		if err != nil {
			return nil, brokerErr("offsets "+tp.String(), err)
		}
		out[tp] = Bounds{Begin: begin, End: end}
	}
	return out, nil
}

// EmptyTopics returns the topics whose partitions all hold no records.
func (h *Handler) EmptyTopics(ctx context.Context, topics []string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	parts, err := h.discover(ctx, topics)
	if err != nil {
		return nil, err
	}
	bounds, err := h.bounds(ctx, flatten(parts))
	if err != nil {
		return nil, err
	}
	empty := []string{}
	for _, topic := range topics {
		isEmpty := true
		for _, tp := range parts[topic] {
			if !bounds[tp].Empty() {
				isEmpty = false
				break
			}
		}
		if isEmpty && !slices.Contains(empty, topic) {
			empty = append(empty, topic)
		}
	}
	return empty, nil
}

func (h *Handler) EmptyConsumedOnly(ctx context.Context) ([]string, error) {
	return h.EmptyTopics(ctx, h.topics.ConsumedOnly())
}

func (h *Handler) EmptyProducedOnly(ctx context.Context) ([]string, error) {
	return h.EmptyTopics(ctx, h.topics.ProducedOnly())
}

func (h *Handler) EmptyConsumedAndProduced(ctx context.Context) ([]string, error) {
	return h.EmptyTopics(ctx, h.topics.ConsumedAndProduced())
}

// flatten orders partitions by topic, then partition.
func flatten(parts map[string][]kafka.TopicPartition) []kafka.TopicPartition {
	topics := make([]string, 0, len(parts))
	for t := range parts {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	var out []kafka.TopicPartition
	for _, t := range topics {
		out = append(out, parts[t]...)
	}
	return out
}
