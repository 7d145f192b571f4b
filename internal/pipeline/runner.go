package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"topicsnap/internal/logging"
	"topicsnap/sink"
)

// QueryFunc produces the payload of one run.
type QueryFunc func(context.Context) (any, error)

type Runner struct {
	job      string
	query    string
	run      QueryFunc
	interval time.Duration
	sinks    []sink.Adapter
	closers  []io.Closer

	mu   sync.Mutex
	seq  uint64
	subs []func(healthy bool)

	log *slog.Logger
	now func() time.Time
}

func NewRunner(job string) *Runner {
	return &Runner{job: job, log: logging.Component("pipeline").With("job", job), now: time.Now}
}

func (r *Runner) AddSink(s sink.Adapter)             { r.sinks = append(r.sinks, s) }
func (r *Runner) AddCloser(c io.Closer)              { r.closers = append(r.closers, c) }
func (r *Runner) SetInterval(d time.Duration)        { r.interval = d }
func (r *Runner) SetQuery(name string, fn QueryFunc) { r.query, r.run = name, fn }

// SubscribeStatus registers fn to learn whether the last run succeeded.
func (r *Runner) SubscribeStatus(fn func(healthy bool)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *Runner) status(healthy bool) {
	r.mu.Lock()
	handlers := append([]func(bool){}, r.subs...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(healthy)
	}
}

/*──────── frame routing ───────*/
func (r *Runner) pushFrame(ctx context.Context, f sink.Frame) error {
	for _, s := range r.sinks {
		if err := s.Push(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce executes the query and hands the result to every sink.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.run == nil {
		return errors.New("runner: no query configured")
	}
	start := r.now()
	payload, err := r.run(ctx)
	if err != nil {
		r.status(false)
		return err
	}
	r.mu.Lock()
	r.seq++
	f := sink.Frame{Job: r.job, Query: r.query, Seq: r.seq, At: r.now(), Payload: payload}
	r.mu.Unlock()

	if err := r.pushFrame(ctx, f); err != nil {
		r.status(false)
		return err
	}
	r.status(true)
	r.log.Debug("run complete", "query", r.query, "seq", f.Seq, "took", r.now().Sub(start))
	return nil
}

// Run executes the query once, or every interval until ctx ends. Failed
// runs on an interval are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return r.RunOnce(ctx)
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("run failed", "query", r.query, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Close releases sinks first, then the snapshot handler.
func (r *Runner) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
