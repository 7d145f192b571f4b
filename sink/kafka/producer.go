package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"topicsnap/internal/logging"
	"topicsnap/internal/telemetry"
	source "topicsnap/source/kafka"
)

var ErrProducerClosed = errors.New("kafka producer closed")

// SaramaProducer hands encoded messages to sarama. In async mode Send
// returns once the message is queued; delivery failures are only logged
// and counted. In sync mode Send waits for the broker acknowledgment.
type SaramaProducer struct {
	async sarama.AsyncProducer
	sync  sarama.SyncProducer

	mu      sync.RWMutex // guards closed against Input() sends
	closed  bool
	done    chan struct{}
	metrics *telemetry.Metrics
	log     *slog.Logger
}

// NewProducer connects a producer for cfg. producer.wait_for_ack selects
// the sync producer.
func NewProducer(cfg source.Config, m *telemetry.Metrics) (*SaramaProducer, error) {
	sc, err := producerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Producer.WaitForAck {
		sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
		if err != nil {
			return nil, fmt.Errorf("%w: sync producer: %w", source.ErrUnavailable, err)
		}
		return NewSync(sp, m), nil
	}
	ap, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("%w: async producer: %w", source.ErrUnavailable, err)
	}
	return NewAsync(ap, m), nil
}

func producerConfig(cfg source.Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Producer.RequiredAcks)
	sc.Producer.Return.Errors = true
	// SyncProducer requires successes; async mode does not read them.
	sc.Producer.Return.Successes = cfg.Producer.WaitForAck
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	return sc, nil
}

// NewAsync wraps p and starts draining its error channel.
func NewAsync(p sarama.AsyncProducer, m *telemetry.Metrics) *SaramaProducer {
	sp := &SaramaProducer{async: p, done: make(chan struct{}), metrics: m, log: logging.Component("kafka-producer")}
	go sp.drainErrors()
	return sp
}

func NewSync(p sarama.SyncProducer, m *telemetry.Metrics) *SaramaProducer {
	return &SaramaProducer{sync: p, metrics: m, log: logging.Component("kafka-producer")}
}

func (p *SaramaProducer) drainErrors() {
	defer close(p.done)
	for e := range p.async.Errors() {
		topic := ""
		if e.Msg != nil {
			topic = e.Msg.Topic
		}
		p.metrics.ObservePublish(topic, e.Err)
		p.log.Error("delivery failed", "topic", topic, "err", e.Err)
	}
}

func (p *SaramaProducer) Send(ctx context.Context, topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(value)}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	if p.sync != nil {
		_, _, err := p.sync.SendMessage(msg)
		return err
	}
	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued messages and stops the producer. Safe to call twice.
func (p *SaramaProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.sync != nil {
		return p.sync.Close()
	}
	p.async.AsyncClose()
	<-p.done
	return nil
}
