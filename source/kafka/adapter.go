package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks errors caused by an unreachable or closed broker
// connection, as opposed to a failed request against a live broker.
var ErrUnavailable = errors.New("kafka: broker unavailable")

type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string { return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition) }

// Record is one fetched message, payload still encoded.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
}

// PartitionRecords groups the records of one fetch by partition, in the
// order they were received.
type PartitionRecords struct {
	TopicPartition
	Records []Record
}

// Client is the broker capability the snapshot core needs. Implementations
// are not safe for concurrent use; callers serialise access.
type Client interface {
	Topics(ctx context.Context) ([]string, error)
	Partitions(ctx context.Context, topic string) ([]int32, error)
	// Offsets returns the oldest retained offset and the offset one past
	// the newest committed record.
	Offsets(ctx context.Context, tp TopicPartition) (begin, end int64, err error)
	Subscribe(ctx context.Context, topics []string) error
	Seek(ctx context.Context, tp TopicPartition, offset int64) error
	// Position is the next offset that will be fetched for tp.
	Position(tp TopicPartition) (int64, bool)
	// Fetch waits up to timeout for records. A timeout yields an empty
	// batch and no error.
	Fetch(ctx context.Context, timeout time.Duration) ([]PartitionRecords, error)
	// Commit stores the current positions for the consumer group, if any.
	Commit(ctx context.Context) error
	Close() error
}

// Adapter is a named driver that builds its connection from Config.
type Adapter interface {
	Client
	Configure(Config) error
}
