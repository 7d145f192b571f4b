package kafka

import (
	"context"
	"errors"
	"testing"

	"topicsnap/sink"
)

type recordingPublisher struct {
	topic string
	key   any
	value any
	err   error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, value any) error {
	r.topic, r.value = topic, value
	return r.err
}

func (r *recordingPublisher) PublishKeyed(_ context.Context, topic string, key, value any) error {
	r.topic, r.key, r.value = topic, key, value
	return r.err
}

func TestResultSink_PublishesFrame(t *testing.T) {
	a, err := sink.NewAdapter("kafka")
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.Configure(Config{Topic: "snapshots", Key: "prices"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	pub := &recordingPublisher{}
	a.(sink.PublisherAware).BindPublisher(pub)

	f := sink.Frame{Job: "j", Query: "latest", Seq: 1, Payload: map[string]any{"prices": 42.0}}
	if err := a.Push(context.Background(), f); err != nil {
		t.Fatalf("Push: %v", err)
	}
	got, ok := pub.value.(sink.Frame)
	if pub.topic != "snapshots" || pub.key != "prices" || !ok || got.Seq != 1 {
		t.Fatalf("unexpected publish: %+v", pub)
	}
}

func TestResultSink_Errors(t *testing.T) {
	d := &driver{}
	if err := d.Configure(Config{}); err == nil {
		t.Fatalf("want error without topic")
	}
	if err := d.Configure("nope"); err == nil {
		t.Fatalf("want error for wrong config type")
	}
	_ = d.Configure(Config{Topic: "out"})
	if err := d.Push(context.Background(), sink.Frame{}); err == nil {
		t.Fatalf("want error without publisher")
	}

	cause := errors.New("boom")
	d.BindPublisher(&recordingPublisher{err: cause})
	if err := d.Push(context.Background(), sink.Frame{}); !errors.Is(err, cause) {
		t.Fatalf("want publisher error, got %v", err)
	}
}
