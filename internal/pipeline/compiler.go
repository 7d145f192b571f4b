package pipeline

import (
	"context"
	"fmt"

	"topicsnap/internal/config"
	"topicsnap/internal/job"
	"topicsnap/internal/logging"
	"topicsnap/internal/snapshot"
	"topicsnap/internal/telemetry"
	"topicsnap/sink"
	sinkkafka "topicsnap/sink/kafka"
	"topicsnap/sink/stdout"
	"topicsnap/source/kafka"
)

// snapshotter is the part of *snapshot.Handler a query needs.
type snapshotter interface {
	LatestValues(ctx context.Context) (map[string]any, error)
	LatestValue(ctx context.Context, topic string) (any, bool, error)
	LatestField(ctx context.Context, topic, field string, def any, precision int) (any, error)
	Snapshot(ctx context.Context, opts snapshot.SnapshotOptions) (snapshot.Table, error)
	EmptyConsumedOnly(ctx context.Context) ([]string, error)
	EmptyProducedOnly(ctx context.Context) ([]string, error)
	EmptyConsumedAndProduced(ctx context.Context) ([]string, error)
}

// Compile loads the job at path, connects to Kafka and returns a runner
// ready to Run. m may be nil.
func Compile(ctx context.Context, path string, m *telemetry.Metrics) (*Runner, error) {
	file, confPath, err := config.LoadJobSpec(path)
	if err != nil {
		return nil, err
	}
	kc, err := config.LoadKafkaConfig(confPath)
	if err != nil {
		return nil, fmt.Errorf("kafka config: %w", err)
	}

	src, err := kafka.NewAdapter(file.Source.Driver)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(kc); err != nil {
		return nil, err
	}

	var producer snapshot.Producer
	if len(kc.Topics.Produced) > 0 {
		p, err := sinkkafka.NewProducer(kc, m)
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		producer = p
	}

	opts := snapshot.OptionsFromConfig(kc)
	opts.Metrics = m
	opts.Logger = logging.Component("snapshot").With("job", file.Name)
	h, err := snapshot.New(ctx, src, producer, snapshot.NewTopics(kc.Topics.Consumed, kc.Topics.Produced), opts)
	if err != nil {
		if producer != nil {
			_ = producer.Close()
		}
		_ = src.Close()
		return nil, err
	}

	r, err := Build(file, h, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	r.AddCloser(h)
	return r, nil
}

// Build wires the query and sinks of file around an existing handler.
func Build(file job.File, h snapshotter, pub sink.Publisher) (*Runner, error) {
	r := NewRunner(file.Name)
	fn, err := queryFunc(file.Query, h)
	if err != nil {
		return nil, err
	}
	r.SetQuery(string(file.Query.Mode), fn)
	r.SetInterval(file.Interval)

	for _, name := range file.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return nil, err
		}

		switch name {
		case "stdout":
			c := file.SinkConfigs.Stdout
			err = sDrv.Configure(stdout.Config{Pretty: c.Pretty, PrintCounter: c.PrintCounter})
		case "kafka":
			c := file.SinkConfigs.Kafka
			err = sDrv.Configure(sinkkafka.Config{Topic: c.Topic, Key: c.Key})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return nil, err
		}

		if aware, ok := sDrv.(sink.PublisherAware); ok {
			aware.BindPublisher(pub)
		}
		r.AddSink(sDrv)
	}
	return r, nil
}

func queryFunc(q job.QuerySpec, h snapshotter) (QueryFunc, error) {
	switch q.Mode {
	case job.ModeLatest:
		return func(ctx context.Context) (any, error) {
			return h.LatestValues(ctx)
		}, nil

	case job.ModeLatestValue:
		return func(ctx context.Context) (any, error) {
			v, ok, err := h.LatestValue(ctx, q.Topic)
			if err != nil {
				return nil, err
			}
			return map[string]any{"topic": q.Topic, "value": v, "found": ok}, nil
		}, nil

	case job.ModeLatestField:
		precision := snapshot.DefaultPrecision
		if q.Precision != nil {
			precision = *q.Precision
		}
		return func(ctx context.Context) (any, error) {
			v, err := h.LatestField(ctx, q.Topic, q.Field, q.Default, precision)
			if err != nil {
				return nil, err
			}
			return map[string]any{"topic": q.Topic, "field": q.Field, "value": v}, nil
		}, nil

	case job.ModeTable:
		opts := snapshot.SnapshotOptions{FromBeginning: q.FromBeginning, KeyFilter: q.KeyFilter, LatestByKey: q.LatestByKey}
		return func(ctx context.Context) (any, error) {
			t, err := h.Snapshot(ctx, opts)
			if err != nil {
				return nil, err
			}
			out := map[string]any{"columns": snapshot.Columns, "rows": t.Rows}
			if q.KeyFilter != nil && q.LatestByKey {
				v, ok := t.ExtractValue(*q.KeyFilter)
				out["value"], out["found"] = v, ok
			}
			return out, nil
		}, nil

	case job.ModeEmptyTopics:
		return func(ctx context.Context) (any, error) {
			consumed, err := h.EmptyConsumedOnly(ctx)
			if err != nil {
				return nil, err
			}
			produced, err := h.EmptyProducedOnly(ctx)
			if err != nil {
				return nil, err
			}
			both, err := h.EmptyConsumedAndProduced(ctx)
			if err != nil {
				return nil, err
			}
			return map[string][]string{
				"consumed_only":         consumed,
				"produced_only":         produced,
				"consumed_and_produced": both,
			}, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported query mode %q", q.Mode)
}
