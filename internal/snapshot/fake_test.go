package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"topicsnap/source/kafka"
)

type fakePartition struct {
	begin   int64
	records []kafka.Record // offsets begin..end-1
	markers map[int64]bool // offsets that are never delivered
}

func (p *fakePartition) end() int64 { return p.begin + int64(len(p.records)) }

// fakeBroker is an in-memory kafka.Client. Subscribed partitions start at
// their begin offset; Fetch hands out at most perFetch records per partition.
type fakeBroker struct {
	parts      map[kafka.TopicPartition]*fakePartition
	pos        map[kafka.TopicPartition]int64
	subscribed []string

	perFetch   int
	stall      bool // Fetch never returns records
	fetchErr   error
	topicsErr  error
	offsetsErr error
	// beforeFetch runs at the start of the nth Fetch call.
	beforeFetch func(n int)

	seeks          []seekCall
	fetches        int
	partitionCalls int
	commits        int
	closed         bool
}

type seekCall struct {
	tp     kafka.TopicPartition
	offset int64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		parts: map[kafka.TopicPartition]*fakePartition{},
		pos:   map[kafka.TopicPartition]int64{},
	}
}

// addTopic creates partitions with the given begin offsets and no records.
func (b *fakeBroker) addTopic(topic string, begins ...int64) {
	for p, begin := range begins {
		b.parts[kafka.TopicPartition{Topic: topic, Partition: int32(p)}] = &fakePartition{begin: begin}
	}
}

func (b *fakeBroker) produce(topic string, partition int32, ts time.Time, key, value string) {
	part := b.parts[kafka.TopicPartition{Topic: topic, Partition: partition}]
	rec := kafka.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    part.end(),
		Timestamp: ts,
		Value:     []byte(value),
	}
	if key != "" {
		rec.Key = []byte(key)
	}
	part.records = append(part.records, rec)
}

// mark appends a transaction marker: it takes an offset but Fetch never
// returns it, so the position stops in front of it.
func (b *fakeBroker) mark(topic string, partition int32) {
	part := b.parts[kafka.TopicPartition{Topic: topic, Partition: partition}]
	if part.markers == nil {
		part.markers = map[int64]bool{}
	}
	part.markers[part.end()] = true
	part.records = append(part.records, kafka.Record{Topic: topic, Partition: partition, Offset: part.end()})
}

func (b *fakeBroker) Topics(context.Context) ([]string, error) {
	if b.topicsErr != nil {
		return nil, b.topicsErr
	}
	seen := map[string]bool{}
	var out []string
	for tp := range b.parts {
		if !seen[tp.Topic] {
			seen[tp.Topic] = true
			out = append(out, tp.Topic)
		}
	}
	return out, nil
}

func (b *fakeBroker) Partitions(_ context.Context, topic string) ([]int32, error) {
	b.partitionCalls++
	var out []int32
	for tp := range b.parts {
		if tp.Topic == topic {
			out = append(out, tp.Partition)
		}
	}
	return out, nil
}

func (b *fakeBroker) Offsets(_ context.Context, tp kafka.TopicPartition) (int64, int64, error) {
	if b.offsetsErr != nil {
		return 0, 0, b.offsetsErr
	}
	p, ok := b.parts[tp]
	if !ok {
		return 0, 0, errors.New("unknown partition")
	}
	return p.begin, p.end(), nil
}

func (b *fakeBroker) Subscribe(_ context.Context, topics []string) error {
	b.subscribed = topics
	for tp, p := range b.parts {
		for _, t := range topics {
			if tp.Topic == t {
				b.pos[tp] = p.begin
			}
		}
	}
	return nil
}

func (b *fakeBroker) Seek(_ context.Context, tp kafka.TopicPartition, offset int64) error {
	b.seeks = append(b.seeks, seekCall{tp: tp, offset: offset})
	b.pos[tp] = offset
	return nil
}

func (b *fakeBroker) Position(tp kafka.TopicPartition) (int64, bool) {
	pos, ok := b.pos[tp]
	return pos, ok
}

func (b *fakeBroker) Fetch(ctx context.Context, timeout time.Duration) ([]kafka.PartitionRecords, error) {
	b.fetches++
	if b.beforeFetch != nil {
		b.beforeFetch(b.fetches)
	}
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.stall {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			return nil, nil
		}
	}
	var out []kafka.PartitionRecords
	for tp, pos := range b.pos {
		p := b.parts[tp]
		var recs []kafka.Record
		for pos < p.end() && !p.markers[pos] && (b.perFetch == 0 || len(recs) < b.perFetch) {
			recs = append(recs, p.records[pos-p.begin])
			pos++
		}
		b.pos[tp] = pos
		if len(recs) > 0 {
			out = append(out, kafka.PartitionRecords{TopicPartition: tp, Records: recs})
		}
	}
	return out, nil
}

func (b *fakeBroker) Commit(context.Context) error {
	b.commits++
	return nil
}

func (b *fakeBroker) Close() error {
	b.closed = true
	return nil
}

type sent struct {
	topic      string
	key, value string
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []sent
	err    error
	closed bool
}

func (p *fakeProducer) Send(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sent{topic: topic, key: string(key), value: string(value)})
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

func ts(sec int64) time.Time { return time.Unix(sec, 0) }

func newTestHandler(t *testing.T, b *fakeBroker, p Producer, consumed, produced []string, opts Options) *Handler {
	t.Helper()
	h, err := New(context.Background(), b, p, NewTopics(consumed, produced), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}
