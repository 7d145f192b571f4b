package snapshot

import (
	"slices"
	"time"
)

// Row is one drained record with decoded key and value.
type Row struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
}

// Columns is the fixed column set of a Table.
var Columns = []string{"topic", "partition", "offset", "timestamp", "key", "value"}

type reducer interface {
	add(Row)
}

// Entry is the newest value seen for one topic.
type Entry struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Seen      bool      `json:"seen"`
}

// Latest maps each consumed topic to its newest value by timestamp.
type Latest map[string]Entry

// NewLatest starts every topic without a value.
func NewLatest(topics []string) Latest {
	l := make(Latest, len(topics))
	for _, t := range topics {
		l[t] = Entry{}
	}
	return l
}

// add keeps a record only when it is strictly newer; on equal timestamps the
// first one seen stays.
func (l Latest) add(r Row) {
	cur := l[r.Topic]
	if cur.Seen && !r.Timestamp.After(cur.Timestamp) {
		return
	}
	l[r.Topic] = Entry{Value: r.Value, Timestamp: r.Timestamp, Partition: r.Partition, Offset: r.Offset, Seen: true}
}

// Values flattens the projection to topic -> value, nil for topics
// without records.
func (l Latest) Values() map[string]any {
	out := make(map[string]any, len(l))
	for t, e := range l {
		out[t] = e.Value
	}
	return out
}

// Table holds drained rows in arrival order.
type Table struct {
	Rows []Row `json:"rows"`
}

func (t *Table) add(r Row) { t.Rows = append(t.Rows, r) }

func (t Table) Len() int { return len(t.Rows) }

// FilterByKey keeps rows whose key equals key. With latestOnly only the
// rows carrying the highest offset among those remain.
func (t Table) FilterByKey(key string, latestOnly bool) Table {
	rows := []Row{}
	for _, r := range t.Rows {
		if r.Key == key {
			rows = append(rows, r)
		}
	}
	if !latestOnly || len(rows) == 0 {
		return Table{Rows: rows}
	}
	top := slices.MaxFunc(rows, func(a, b Row) int { return cmpInt64(a.Offset, b.Offset) }).Offset
	rows = slices.DeleteFunc(rows, func(r Row) bool { return r.Offset != top })
	return Table{Rows: rows}
}

// ExtractValue returns the value of the newest row with key. The boolean is
// false when no row matches; that is an answer, not a failure.
func (t Table) ExtractValue(key string) (any, bool) {
	f := t.FilterByKey(key, true)
	if f.Len() == 0 {
		return nil, false
	}
	return f.Rows[0].Value, true
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
