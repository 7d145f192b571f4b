package snapshot

import "slices"

// Topics is the caller-declared topic configuration. The derived sets are
// computed once by NewTopics and never change; accessors return copies.
type Topics struct {
	consumed     []string
	produced     []string
	all          []string
	consumedOnly []string
	producedOnly []string
	both         []string
}

func NewTopics(consumed, produced []string) Topics {
	c, p := dedup(consumed), dedup(produced)
	t := Topics{consumed: c, produced: p, all: dedup(append(slices.Clone(c), p...))}
	for _, name := range c {
		if slices.Contains(p, name) {
			t.both = append(t.both, name)
		} else {
			t.consumedOnly = append(t.consumedOnly, name)
		}
	}
	for _, name := range p {
		if !slices.Contains(c, name) {
			t.producedOnly = append(t.producedOnly, name)
		}
	}
	return t
}

func (t Topics) Consumed() []string            { return slices.Clone(t.consumed) }
func (t Topics) Produced() []string            { return slices.Clone(t.produced) }
func (t Topics) All() []string                 { return slices.Clone(t.all) }
func (t Topics) ConsumedOnly() []string        { return slices.Clone(t.consumedOnly) }
func (t Topics) ProducedOnly() []string        { return slices.Clone(t.producedOnly) }
func (t Topics) ConsumedAndProduced() []string { return slices.Clone(t.both) }

func dedup(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
