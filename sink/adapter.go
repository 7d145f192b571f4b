package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Frame is one query result on its way to the sinks.
type Frame struct {
	Job     string    `json:"job"`
	Query   string    `json:"query"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific YAML ⇒ struct
	Push(context.Context, Frame) error
	Close() error // idempotent
}

// Publisher sends values to a produced topic of the running job.
type Publisher interface {
	Publish(ctx context.Context, topic string, value any) error
	PublishKeyed(ctx context.Context, topic string, key, value any) error
}

// PublisherAware is optional; sinks that write back to Kafka implement it
// and the compiler binds the job's publisher.
type PublisherAware interface {
	BindPublisher(Publisher)
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	reg[name] = f
	mu.Unlock()
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (have %v)", name, Names())
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
