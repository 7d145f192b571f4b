package kafka

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func newMockDriver(t *testing.T, cfg Config) (*SaramaDriver, *mocks.Consumer) {
	t.Helper()
	mc := mocks.NewConsumer(t, nil)
	d := &SaramaDriver{cfg: cfg, cons: mc}
	d.init()
	t.Cleanup(func() {
		for tp := range d.streams {
			d.stop(tp)
		}
	})
	return d, mc
}

func TestSaramaDriver_SeekSetsPositionAndFetchReturnsRecords(t *testing.T) {
	d, mc := newMockDriver(t, Config{})
	tp := TopicPartition{Topic: "prices", Partition: 0}
	pc := mc.ExpectConsumePartition("prices", 0, 4)

	if err := d.Seek(context.Background(), tp, 4); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos, ok := d.Position(tp); !ok || pos != 4 {
		t.Fatalf("want position 4 after seek, got %d (ok=%v)", pos, ok)
	}

	pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte(`"NA"`), Value: []byte(`{"p":42}`), Timestamp: time.Unix(100, 0)})
	batch, err := d.Fetch(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch) != 1 || len(batch[0].Records) != 1 {
		t.Fatalf("want one record, got %+v", batch)
	}
	rec := batch[0].Records[0]
	if batch[0].TopicPartition != tp || rec.Topic != "prices" || string(rec.Value) != `{"p":42}` {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.Timestamp.Equal(time.Unix(100, 0)) {
		t.Fatalf("timestamp lost: %v", rec.Timestamp)
	}
}

func TestSaramaDriver_FetchTimeoutIsEmpty(t *testing.T) {
	d, mc := newMockDriver(t, Config{})
	mc.ExpectConsumePartition("t", 0, 0)
	if err := d.Seek(context.Background(), TopicPartition{Topic: "t"}, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	batch, err := d.Fetch(context.Background(), 10*time.Millisecond)
	if err != nil || len(batch) != 0 {
		t.Fatalf("want empty batch and no error, got %v, %v", batch, err)
	}
}

func TestSaramaDriver_FetchHonoursContext(t *testing.T) {
	d, _ := newMockDriver(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Fetch(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSaramaDriver_FetchErrorMarkedUnavailable(t *testing.T) {
	d, mc := newMockDriver(t, Config{})
	pc := mc.ExpectConsumePartition("t", 0, 0)
	if err := d.Seek(context.Background(), TopicPartition{Topic: "t"}, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pc.YieldError(sarama.ErrOutOfBrokers)

	_, err := d.Fetch(context.Background(), time.Second)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("want ErrUnavailable wrapping ErrOutOfBrokers, got %v", err)
	}
}

func TestSaramaDriver_MaxRecordsBoundsBatch(t *testing.T) {
	d, mc := newMockDriver(t, Config{Poll: PollCfg{MaxRecords: 2}})
	pc := mc.ExpectConsumePartition("t", 0, 0)
	if err := d.Seek(context.Background(), TopicPartition{Topic: "t"}, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	for i := 0; i < 5; i++ {
		pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte{byte('a' + i)}})
	}

	total := 0
	deadline := time.Now().Add(2 * time.Second)
	for total < 5 && time.Now().Before(deadline) {
		batch, err := d.Fetch(context.Background(), 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		n := 0
		for _, pr := range batch {
			n += len(pr.Records)
		}
		if n > 2 {
			t.Fatalf("batch of %d exceeds max_records", n)
		}
		total += n
	}
	if total != 5 {
		t.Fatalf("want 5 records overall, got %d", total)
	}
}

func TestSaramaDriver_StaleGenerationDropped(t *testing.T) {
	d := &SaramaDriver{}
	d.init()
	tp := TopicPartition{Topic: "t"}
	d.streams[tp] = &stream{gen: 2, pos: 9}
	b := newBatcher(0)

	stale := delivery{tp: tp, gen: 1, msg: &sarama.ConsumerMessage{Topic: "t", Offset: 3}}
	if err := d.accept(b, stale); err != nil || b.count != 0 {
		t.Fatalf("stale delivery must be dropped, count=%d err=%v", b.count, err)
	}
	staleErr := delivery{tp: tp, gen: 1, err: sarama.ErrOutOfBrokers}
	if err := d.accept(b, staleErr); err != nil {
		t.Fatalf("stale error must be dropped, got %v", err)
	}

	fresh := delivery{tp: tp, gen: 2, msg: &sarama.ConsumerMessage{Topic: "t", Offset: 9}}
	if err := d.accept(b, fresh); err != nil || b.count != 1 {
		t.Fatalf("fresh delivery rejected, count=%d err=%v", b.count, err)
	}
	if pos, _ := d.Position(tp); pos != 10 {
		t.Fatalf("want position 10, got %d", pos)
	}
}

func TestBatcher_GroupsByPartitionInFirstSeenOrder(t *testing.T) {
	b := newBatcher(0)
	b.add(Record{Topic: "b", Partition: 1, Offset: 1})
	b.add(Record{Topic: "a", Partition: 0, Offset: 7})
	b.add(Record{Topic: "b", Partition: 1, Offset: 2})

	out := b.out()
	if len(out) != 2 || out[0].Topic != "b" || out[1].Topic != "a" {
		t.Fatalf("unexpected grouping %+v", out)
	}
	if len(out[0].Records) != 2 || out[0].Records[1].Offset != 2 {
		t.Fatalf("records out of order: %+v", out[0].Records)
	}
}

func TestClassify(t *testing.T) {
	plain := errors.New("unknown topic or partition")
	cases := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"out of brokers", sarama.ErrOutOfBrokers, true},
		{"closed client", sarama.ErrClosedClient, true},
		{"not connected", sarama.ErrNotConnected, true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"already marked", ErrUnavailable, true},
		{"other", plain, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classify(c.err)
			if errors.Is(got, ErrUnavailable) != c.unavailable {
				t.Fatalf("classify(%v) = %v; unavailable want %v", c.err, got, c.unavailable)
			}
			if !errors.Is(got, c.err) {
				t.Fatalf("cause lost: %v", got)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) must be nil")
	}
}

func TestSaramaConfig(t *testing.T) {
	sc, err := saramaConfig(Config{
		Version:         DefaultVersion,
		ClientID:        "snap",
		AutoOffsetReset: ResetLatest,
		FetchMaxWait:    300 * time.Millisecond,
		SASLUser:        "u",
		SASLPass:        "p",
	})
	if err != nil {
		t.Fatalf("saramaConfig: %v", err)
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Fatalf("want OffsetNewest, got %d", sc.Consumer.Offsets.Initial)
	}
	if sc.Consumer.Offsets.AutoCommit.Enable {
		t.Fatalf("sarama auto commit must stay off")
	}
	if sc.Consumer.MaxWaitTime != 300*time.Millisecond || sc.ClientID != "snap" || !sc.Net.SASL.Enable {
		t.Fatalf("config not applied: %+v", sc.Consumer)
	}

	if _, err := saramaConfig(Config{Version: "not-a-version"}); err == nil {
		t.Fatalf("want error for bad version")
	}
}

func TestNewAdapter(t *testing.T) {
	a, err := NewAdapter("sarama")
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if _, ok := a.(*SaramaDriver); !ok {
		t.Fatalf("want *SaramaDriver, got %T", a)
	}
	if _, err := NewAdapter("confluent"); err == nil {
		t.Fatalf("want error for unknown driver")
	}
}
