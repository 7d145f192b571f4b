package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"topicsnap/internal/logging"

	"github.com/IBM/sarama"
)

// delivery is one message or error forwarded from a partition consumer,
// tagged with the stream generation that produced it.
type delivery struct {
	tp  TopicPartition
	gen uint64
	msg *sarama.ConsumerMessage
	err error
}

type stream struct {
	pc   sarama.PartitionConsumer
	gen  uint64
	pos  int64
	done chan struct{}
}

// SaramaDriver drains partitions with a plain sarama Consumer: every
// partition has its own PartitionConsumer, which makes seeking a matter of
// restarting that one consumer at the new offset.
type SaramaDriver struct {
	cfg  Config
	cl   sarama.Client
	cons sarama.Consumer
	om   sarama.OffsetManager // nil without group_id

	streams map[TopicPartition]*stream
	poms    map[TopicPartition]sarama.PartitionOffsetManager
	out     chan delivery
	gen     uint64
}

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config
	d.init()

	sc, err := saramaConfig(config)
	if err != nil {
		return err
	}
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if d.cons, err = sarama.NewConsumerFromClient(d.cl); err != nil {
		_ = d.cl.Close()
		return fmt.Errorf("kafka consumer: %w", err)
	}
	if config.GroupID != "" {
		if d.om, err = sarama.NewOffsetManagerFromClient(config.GroupID, d.cl); err != nil {
			_ = d.cons.Close()
			_ = d.cl.Close()
			return fmt.Errorf("kafka offset manager: %w", err)
		}
	}
	logging.L().Info("sarama-driver: connected", "brokers", config.Brokers, "group", config.GroupID)
	return nil
}

func (d *SaramaDriver) init() {
	if d.streams == nil {
		d.streams = make(map[TopicPartition]*stream)
	}
	if d.poms == nil {
		d.poms = make(map[TopicPartition]sarama.PartitionOffsetManager)
	}
	if d.out == nil {
		d.out = make(chan delivery, 256)
	}
}

func saramaConfig(config Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = config.ClientID
	sc.Consumer.Return.Errors = true
	sc.Consumer.MaxWaitTime = config.FetchMaxWait
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.AutoOffsetReset {
	case ResetLatest:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if logging.L().Enabled(context.Background(), slog.LevelDebug) {
		sarama.Logger = slog.NewLogLogger(logging.L().Handler(), slog.LevelDebug)
	}
	return sc, nil
}

func (d *SaramaDriver) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.cl.RefreshMetadata(); err != nil {
		return nil, classify(err)
	}
	topics, err := d.cl.Topics()
	return topics, classify(err)
}

func (d *SaramaDriver) Partitions(ctx context.Context, topic string) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts, err := d.cl.Partitions(topic)
	return parts, classify(err)
}

func (d *SaramaDriver) Offsets(ctx context.Context, tp TopicPartition) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	begin, err := d.cl.GetOffset(tp.Topic, tp.Partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, classify(err)
	}
	end, err := d.cl.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, classify(err)
	}
	return begin, end, nil
}

// Subscribe assigns every partition of topics, starting from the committed
// group offset when there is one and from auto_offset_reset otherwise.
func (d *SaramaDriver) Subscribe(ctx context.Context, topics []string) error {
	d.init()
	for _, topic := range topics {
		parts, err := d.Partitions(ctx, topic)
		if err != nil {
			return err
		}
		for _, p := range parts {
			tp := TopicPartition{Topic: topic, Partition: p}
			start, err := d.initialOffset(ctx, tp)
			if err != nil {
				return err
			}
			if err := d.Seek(ctx, tp, start); err != nil {
				return err
			}
		}
	}
	logging.L().Info("sarama-driver: subscribed", "topics", topics, "partitions", len(d.streams))
	return nil
}

func (d *SaramaDriver) initialOffset(ctx context.Context, tp TopicPartition) (int64, error) {
	next := sarama.OffsetOldest
	if d.cfg.AutoOffsetReset == ResetLatest {
		next = sarama.OffsetNewest
	}
	if d.om != nil {
		pom, err := d.om.ManagePartition(tp.Topic, tp.Partition)
		if err != nil {
			return 0, classify(err)
		}
		d.poms[tp] = pom
		if off, _ := pom.NextOffset(); off >= 0 {
			return off, nil
		}
	}
	begin, end, err := d.Offsets(ctx, tp)
	if err != nil {
		return 0, err
	}
	if next == sarama.OffsetNewest {
		return end, nil
	}
	return begin, nil
}

// Seek restarts the partition consumer for tp at offset. Messages still
// buffered from the previous consumer are discarded by generation.
func (d *SaramaDriver) Seek(ctx context.Context, tp TopicPartition, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.init()
	d.stop(tp)

	pc, err := d.cons.ConsumePartition(tp.Topic, tp.Partition, offset)
	if err != nil {
		return fmt.Errorf("seek %s to %d: %w", tp, offset, classify(err))
	}
	d.gen++
	st := &stream{pc: pc, gen: d.gen, pos: offset, done: make(chan struct{})}
	d.streams[tp] = st
	go d.forward(tp, st)
	return nil
}

// stop waits for sarama to release tp; a partition can only be consumed
// once per Consumer, so the next ConsumePartition fails while it is held.
func (d *SaramaDriver) stop(tp TopicPartition) {
	st, ok := d.streams[tp]
	if !ok {
		return
	}
	close(st.done)
	if err := st.pc.Close(); err != nil {
		logging.L().Debug("sarama-driver: partition consumer closed with errors", "partition", tp.String(), "err", err)
	}
	delete(d.streams, tp)
}

func (d *SaramaDriver) forward(tp TopicPartition, st *stream) {
	msgs, errs := st.pc.Messages(), st.pc.Errors()
	for msgs != nil || errs != nil {
		var dl delivery
		select {
		case <-st.done:
			return
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			dl = delivery{tp: tp, gen: st.gen, msg: m}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			dl = delivery{tp: tp, gen: st.gen, err: e}
		}
		select {
		case d.out <- dl:
		case <-st.done:
			return
		}
	}
}

func (d *SaramaDriver) Position(tp TopicPartition) (int64, bool) {
	st, ok := d.streams[tp]
	if !ok {
		return 0, false
	}
	return st.pos, true
}

// Fetch blocks until the first record arrives or timeout elapses, then
// returns everything already buffered without waiting further.
func (d *SaramaDriver) Fetch(ctx context.Context, timeout time.Duration) ([]PartitionRecords, error) {
	d.init()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	b := newBatcher(d.cfg.Poll.MaxRecords)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return b.out(), nil
		case dl := <-d.out:
			if err := d.accept(b, dl); err != nil {
				return nil, err
			}
		}
		if b.count == 0 {
			continue
		}
		for !b.full() {
			select {
			case dl := <-d.out:
				if err := d.accept(b, dl); err != nil {
					return nil, err
				}
				continue
			default:
			}
			break
		}
		return b.out(), nil
	}
}

func (d *SaramaDriver) accept(b *batcher, dl delivery) error {
	st, ok := d.streams[dl.tp]
	if !ok || st.gen != dl.gen {
		return nil // stale
	}
	if dl.err != nil {
		return fmt.Errorf("fetch %s: %w", dl.tp, classify(dl.err))
	}
	m := dl.msg
	b.add(Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Timestamp: m.Timestamp,
		Key:       m.Key,
		Value:     m.Value,
	})
	st.pos = m.Offset + 1
	return nil
}

func (d *SaramaDriver) Commit(ctx context.Context) error {
	if d.om == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for tp, st := range d.streams {
		if pom, ok := d.poms[tp]; ok {
			pom.MarkOffset(st.pos, "")
		}
	}
	d.om.Commit()
	return nil
}

func (d *SaramaDriver) Close() error {
	for tp := range d.streams {
		d.stop(tp)
	}
	var errs []error
	for _, pom := range d.poms {
		pom.AsyncClose()
	}
	if d.om != nil {
		errs = append(errs, d.om.Close())
	}
	if d.cons != nil {
		errs = append(errs, d.cons.Close())
	}
	if d.cl != nil && !d.cl.Closed() {
		errs = append(errs, d.cl.Close())
	}
	return errors.Join(errs...)
}

// classify marks connection level failures with ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, sarama.ErrOutOfBrokers),
		errors.Is(err, sarama.ErrClosedClient),
		errors.Is(err, sarama.ErrNotConnected),
		errors.Is(err, sarama.ErrBrokerNotAvailable),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// batcher keeps records grouped by partition in first-seen order.
type batcher struct {
	max   int
	count int
	idx   map[TopicPartition]int
	parts []PartitionRecords
}

func newBatcher(max int) *batcher {
	return &batcher{max: max, idx: make(map[TopicPartition]int)}
}

func (b *batcher) add(r Record) {
	tp := TopicPartition{Topic: r.Topic, Partition: r.Partition}
	i, ok := b.idx[tp]
	if !ok {
		i = len(b.parts)
		b.idx[tp] = i
		b.parts = append(b.parts, PartitionRecords{TopicPartition: tp})
	}
	b.parts[i].Records = append(b.parts[i].Records, r)
	b.count++
}

func (b *batcher) full() bool { return b.max > 0 && b.count >= b.max }

func (b *batcher) out() []PartitionRecords { return b.parts }
