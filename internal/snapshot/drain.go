package snapshot

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"topicsnap/source/kafka"
)

type drainState int

const (
	statePositioning drainState = iota
	statePolling
	stateDraining
	stateComplete
	stateFailed
)

func (s drainState) String() string {
	switch s {
	case statePositioning:
		return "positioning"
	case statePolling:
		return "polling"
	case stateDraining:
		return "draining"
	case stateComplete:
		return "complete"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// drain is one pass of the drain loop. It owns the position map for its
// duration and feeds every fetched record into red. The caller holds h.mu.
type drain struct {
	h     *Handler
	query string
	mode  seekMode
	red   reducer

	targets  []kafka.TopicPartition
	bounds   map[kafka.TopicPartition]Bounds
	position map[kafka.TopicPartition]int64
	start    map[kafka.TopicPartition]int64 // position after seeking
	batch    []kafka.PartitionRecords
	polls    int
	err      error
}

func (h *Handler) runDrain(ctx context.Context, query string, mode seekMode, topics []string, red reducer) error {
	if h.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Deadline)
		defer cancel()
	}
	d := &drain{h: h, query: query, mode: mode, red: red}
	start := time.Now()

	state := statePositioning
	for state != stateComplete && state != stateFailed {
		next := d.step(ctx, state, topics)
		if next != state {
			h.log.Debug("drain transition", "query", query, "from", state, "to", next)
		}
		state = next
	}

	outcome := "complete"
	if state == stateFailed {
		outcome = "failed"
		d.rewind(ctx)
		h.metrics.SetUndrained(query, len(undrained(d.position, d.bounds, d.targets)))
	} else {
		h.metrics.SetUndrained(query, 0)
	}
	h.metrics.ObserveDrain(query, outcome, time.Since(start))
	h.log.Debug("drain finished", "query", query, "mode", mode, "outcome", outcome,
		"partitions", len(d.targets), "polls", d.polls, "took", time.Since(start))
	return d.err
}

func (d *drain) step(ctx context.Context, s drainState, topics []string) drainState {
	switch s {
	case statePositioning:
		return d.positioning(ctx, topics)
	case statePolling:
		return d.poll(ctx)
	case stateDraining:
		return d.consume()
	default:
		return stateFailed
	}
}

func (d *drain) fail(err error) drainState {
	d.err = err
	return stateFailed
}

func (d *drain) positioning(ctx context.Context, topics []string) drainState {
	h := d.h
	parts, err := h.discover(ctx, topics)
	if err != nil {
		return d.fail(err)
	}
	d.targets = flatten(parts)
	if d.bounds, err = h.bounds(ctx, d.targets); err != nil {
		return d.fail(err)
	}
	switch d.mode {
	case seekLatest:
		err = h.seekLatest(ctx, d.targets, d.bounds)
	case seekBeginning:
		err = h.seekBeginning(ctx, d.targets, d.bounds)
	}
	if err != nil {
		return d.fail(err)
	}

	d.position = make(map[kafka.TopicPartition]int64, len(d.targets))
	for _, tp := range d.targets {
		if pos, ok := h.client.Position(tp); ok {
			d.position[tp] = pos
		}
	}
	d.start = maps.Clone(d.position)
	if IsDrained(d.position, d.bounds, d.targets) {
		return stateComplete
	}
	return statePolling
}

// rewind puts every partition that moved back where the drain started, so
// records read by a failed drain are delivered again by the next one.
func (d *drain) rewind(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, tp := range d.targets {
		start, ok := d.start[tp]
		if !ok {
			continue
		}
		if pos, _ := d.h.client.Position(tp); pos == start {
			continue
		}
		if err := d.h.client.Seek(ctx, tp, start); err != nil {
			d.h.log.Error("rewind failed", "topic", tp.Topic, "partition", tp.Partition, "offset", start, "err", err)
			d.err = errors.Join(d.err, brokerErr("rewind "+tp.String(), err))
			return
		}
		d.h.log.Debug("rewound", "topic", tp.Topic, "partition", tp.Partition, "offset", start)
	}
}

func (d *drain) poll(ctx context.Context) drainState {
	if err := ctx.Err(); err != nil {
		return d.fail(fmt.Errorf("drain %s: %w", d.query, context.Cause(ctx)))
	}
	batch, err := d.h.client.Fetch(ctx, d.h.opts.PollTimeout)
	d.polls++
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return d.fail(fmt.Errorf("drain %s: %w", d.query, err))
		}
		return d.fail(brokerErr("fetch", err))
	}
	n := 0
	for _, pr := range batch {
		n += len(pr.Records)
	}
	d.h.metrics.ObservePoll(n)
	if n == 0 {
		return statePolling
	}
	d.batch = batch
	return stateDraining
}

func (d *drain) consume() drainState {
	h := d.h
	for _, pr := range d.batch {
		for _, rec := range pr.Records {
			if next := rec.Offset + 1; next > d.position[pr.TopicPartition] {
				d.position[pr.TopicPartition] = next
			}
			row, err := h.codec.decode(rec)
			if err != nil {
				if h.opts.OnDecodeError == kafka.DecodeSkip {
					h.metrics.SkipRecord(rec.Topic)
					h.log.Warn("skipping undecodable record", "topic", rec.Topic,
						"partition", rec.Partition, "offset", rec.Offset, "err", err)
					continue
				}
				return d.fail(err)
			}
			d.red.add(row)
		}
		h.metrics.AddRecords(pr.Topic, len(pr.Records))
	}
	d.batch = nil
	if IsDrained(d.position, d.bounds, d.targets) {
		return stateComplete
	}
	return statePolling
}
