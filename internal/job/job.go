package job

import (
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	ModeLatest      Mode = "latest"       // newest value of every consumed topic
	ModeLatestValue Mode = "latest_value" // newest value of one topic
	ModeLatestField Mode = "latest_field" // one field of that value
	ModeTable       Mode = "table"        // every drained row
	ModeEmptyTopics Mode = "empty_topics" // consumed-only / produced-only / both
)

type sinkConfigs struct {
	Kafka  kafkaSink  `yaml:"kafka"`
	Stdout stdoutSink `yaml:"stdout"`
}

type kafkaSink struct {
	Topic string `yaml:"topic"`
	Key   string `yaml:"key"`
}

type stdoutSink struct {
	Pretty       bool `yaml:"pretty"`
	PrintCounter bool `yaml:"print_counter"`
}

type QuerySpec struct {
	Mode  Mode   `yaml:"mode"`
	Topic string `yaml:"topic"`
	Field string `yaml:"field"`
	// Default is returned by latest_field when the field is missing.
	Default   any  `yaml:"default"`
	Precision *int `yaml:"precision"`

	FromBeginning bool    `yaml:"from_beginning"`
	KeyFilter     *string `yaml:"key_filter"`
	LatestByKey   bool    `yaml:"latest_by_key"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Name          string `yaml:"name"`

	Source struct {
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	Query QuerySpec `yaml:"query"`
	// Interval between runs; 0 runs the query once.
	Interval time.Duration `yaml:"interval"`

	Sinks       []string    `yaml:"sinks"`
	SinkConfigs sinkConfigs `yaml:"sink_configs"`
}

func (f *File) Validate() error {
	var errs []error
	q := f.Query
	switch q.Mode {
	case ModeLatest, ModeTable, ModeEmptyTopics:
	case ModeLatestValue:
		if q.Topic == "" {
			errs = append(errs, errors.New("query.topic is required for latest_value"))
		}
	case ModeLatestField:
		if q.Topic == "" || q.Field == "" {
			errs = append(errs, errors.New("query.topic and query.field are required for latest_field"))
		}
	default:
		errs = append(errs, fmt.Errorf("query.mode %q is not supported", q.Mode))
	}
	if f.Interval < 0 {
		errs = append(errs, errors.New("interval must not be negative"))
	}
	if len(f.Sinks) == 0 {
		errs = append(errs, errors.New("at least one sink is required"))
	}
	return errors.Join(errs...)
}
