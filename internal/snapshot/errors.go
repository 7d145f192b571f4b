package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"topicsnap/source/kafka"
)

// Error kinds. Every error returned by a Handler wraps at most one of these,
// plus the underlying cause; context cancellation is passed through as-is.
var (
	ErrConnection      = errors.New("broker connection failed")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrPartitionQuery  = errors.New("partition query failed")
	ErrPublish         = errors.New("publish failed")
	ErrDeserialization = errors.New("record could not be decoded")
)

// TopicNotFoundError lists the requested topics missing from the catalog.
type TopicNotFoundError struct {
	Topics []string
}

func (e *TopicNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTopicNotFound, strings.Join(e.Topics, ", "))
}

func (e *TopicNotFoundError) Unwrap() error { return ErrTopicNotFound }

// brokerErr files a client failure under ErrConnection or ErrPartitionQuery.
func brokerErr(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, kafka.ErrUnavailable):
		return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrPartitionQuery, err)
	}
}
