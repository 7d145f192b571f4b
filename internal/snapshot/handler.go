package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"topicsnap/internal/logging"
	"topicsnap/internal/telemetry"
	"topicsnap/source/kafka"
)

// DefaultPrecision is the number of decimals LatestField keeps for floats.
const DefaultPrecision = 3

type Options struct {
	PollTimeout   time.Duration
	Deadline      time.Duration // whole drain, 0 = none
	KeyCodec      kafka.KeyCodec
	OnDecodeError kafka.DecodeErrorPolicy
	AutoCommit    bool

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

func OptionsFromConfig(cfg kafka.Config) Options {
	return Options{
		PollTimeout:   cfg.Poll.Timeout,
		Deadline:      cfg.Poll.Deadline,
		KeyCodec:      cfg.Codec.Key,
		OnDecodeError: cfg.Codec.OnError,
		AutoCommit:    cfg.EnableAutoCommit && cfg.GroupID != "",
	}
}

// Handler owns one consumer connection and, optionally, one producer.
// Consumer operations are serialised; Publish may run alongside a drain.
type Handler struct {
	mu       sync.Mutex
	client   kafka.Client
	producer Producer
	topics   Topics

	opts    Options
	codec   codec
	metrics *telemetry.Metrics
	log     *slog.Logger
}

// New verifies every configured topic against the broker catalog and
// subscribes to the consumed ones. client is closed by Handler.Close.
func New(ctx context.Context, client kafka.Client, producer Producer, topics Topics, opts Options) (*Handler, error) {
	if client == nil {
		return nil, errors.New("snapshot: nil client")
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	if opts.KeyCodec == "" {
		opts.KeyCodec = kafka.KeyJSON
	}
	if opts.OnDecodeError == "" {
		opts.OnDecodeError = kafka.DecodeAbort
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("snapshot")
	}
	h := &Handler{
		client:   client,
		producer: producer,
		topics:   topics,
		opts:     opts,
		codec:    codec{key: opts.KeyCodec},
		metrics:  opts.Metrics,
		log:      log,
	}
	if err := h.verifyTopics(ctx, topics.All()); err != nil {
		return nil, err
	}
	if consumed := topics.Consumed(); len(consumed) > 0 {
		if err := client.Subscribe(ctx, consumed); err != nil {
			return nil, brokerErr("subscribe", err)
		}
	}
	log.Info("handler ready", "consumed", topics.Consumed(), "produced", topics.Produced())
	return h, nil
}

func (h *Handler) Topics() Topics { return h.topics }

// LatestValues drains the newest record of every consumed partition and
// returns topic -> value, nil for topics with no records.
func (h *Handler) LatestValues(ctx context.Context) (map[string]any, error) {
	l, err := h.latest(ctx, "latest")
	if err != nil {
		return nil, err
	}
	return l.Values(), nil
}

// LatestValue returns the newest value of one consumed topic. The boolean is
// false when the topic holds no record.
func (h *Handler) LatestValue(ctx context.Context, topic string) (any, bool, error) {
	if err := h.consumed(topic); err != nil {
		return nil, false, err
	}
	l, err := h.latest(ctx, "latest_value")
	if err != nil {
		return nil, false, err
	}
	e := l[topic]
	return e.Value, e.Seen, nil
}

// LatestField reads field from the newest JSON object on topic. def is
// returned when the topic is empty or the field is missing or null. Floats
// are rounded to precision decimals.
func (h *Handler) LatestField(ctx context.Context, topic, field string, def any, precision int) (any, error) {
	v, ok, err := h.LatestValue(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := def
	if obj, isObj := v.(map[string]any); ok && isObj && obj[field] != nil {
		out = obj[field]
	} else {
		h.log.Warn("field not available, using default", "topic", topic, "field", field, "default", def)
	}
	if f, isFloat := out.(float64); isFloat {
		out = round(f, precision)
	}
	return out, nil
}

func (h *Handler) latest(ctx context.Context, query string) (Latest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	consumed := h.topics.Consumed()
	l := NewLatest(consumed)
	if err := h.runDrain(ctx, query, seekLatest, consumed, l); err != nil {
		return nil, err
	}
	if err := h.commit(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

type SnapshotOptions struct {
	// FromBeginning replays every consumed partition from its oldest
	// retained record instead of the current position.
	FromBeginning bool
	KeyFilter     *string
	// LatestByKey keeps only the newest rows for KeyFilter; ignored without
	// a filter.
	LatestByKey bool
}

// Snapshot drains every consumed partition to its end offset and returns all
// rows read.
func (h *Handler) Snapshot(ctx context.Context, opts SnapshotOptions) (Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mode := seekNone
	if opts.FromBeginning {
		mode = seekBeginning
	}
	t := Table{Rows: []Row{}}
	if err := h.runDrain(ctx, "table", mode, h.topics.Consumed(), &t); err != nil {
		return Table{}, err
	}
	if err := h.commit(ctx); err != nil {
		return Table{}, err
	}
	if opts.KeyFilter != nil {
		t = t.FilterByKey(*opts.KeyFilter, opts.LatestByKey)
	}
	return t, nil
}

func (h *Handler) commit(ctx context.Context) error {
	if !h.opts.AutoCommit {
		return nil
	}
	if err := h.client.Commit(ctx); err != nil {
		return brokerErr("commit", err)
	}
	return nil
}

func (h *Handler) consumed(topic string) error {
	for _, t := range h.topics.consumed {
		if t == topic {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a consumed topic", ErrTopicNotFound, topic)
}

// Close releases the consumer and the producer.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	if h.producer != nil {
		errs = append(errs, h.producer.Close())
	}
	errs = append(errs, h.client.Close())
	return errors.Join(errs...)
}

func round(f float64, precision int) float64 {
	if precision < 0 {
		return f
	}
	p := math.Pow10(precision)
	return math.Round(f*p) / p
}
