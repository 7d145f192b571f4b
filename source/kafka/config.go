package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix      = "TOPICSNAP_KAFKA__"
	EnvBrokerHost  = "KAFKA_HOST"
	DefaultBroker  = "my-cluster-kafka-bootstrap.kafka:9092"
	DefaultVersion = "2.8.0"

	// DefaultDeadline bounds one drain. A partition whose last offset is a
	// transaction marker never reaches its end offset.
	DefaultDeadline = 30 * time.Second
)

type OffsetReset string

const (
	ResetEarliest OffsetReset = "earliest"
	ResetLatest   OffsetReset = "latest"
)

type DecodeErrorPolicy string

const (
	DecodeAbort DecodeErrorPolicy = "abort"
	DecodeSkip  DecodeErrorPolicy = "skip"
)

type KeyCodec string

const (
	KeyJSON KeyCodec = "json" // keys are JSON documents, as written by PublishKeyed
	KeyRaw  KeyCodec = "raw"  // keys are used as plain strings
)

type TopicsCfg struct {
	Consumed []string `koanf:"consumed"`
	Produced []string `koanf:"produced"`
}

type PollCfg struct {
	Timeout    time.Duration `koanf:"timeout"`     // one fetch
	MaxRecords int           `koanf:"max_records"` // 0 = unbounded batch
	Deadline   time.Duration `koanf:"deadline"`    // whole drain
}

type CodecCfg struct {
	Key     KeyCodec          `koanf:"key"`
	OnError DecodeErrorPolicy `koanf:"on_error"`
}

type ProducerCfg struct {
	RequiredAcks int16 `koanf:"required_acks"` // 0,1,-1
	WaitForAck   bool  `koanf:"wait_for_ack"`
}

type Config struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	Version  string   `koanf:"version"`
	TLSEn    bool     `koanf:"tls_enabled"`
	SASLUser string   `koanf:"sasl_user"`
	SASLPass string   `koanf:"sasl_pass"`

	GroupID          string        `koanf:"group_id"`
	AutoOffsetReset  OffsetReset   `koanf:"auto_offset_reset"`
	EnableAutoCommit bool          `koanf:"enable_auto_commit"`
	FetchMaxWait     time.Duration `koanf:"fetch_max_wait"`

	Topics   TopicsCfg   `koanf:"topics"`
	Poll     PollCfg     `koanf:"poll"`
	Codec    CodecCfg    `koanf:"codec"`
	Producer ProducerCfg `koanf:"producer"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TOPICSNAP_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("kafka env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// TOPICSNAP_KAFKA__POLL__TIMEOUT -> poll.timeout
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if len(c.Brokers) == 0 {
		host := strings.TrimSpace(os.Getenv(EnvBrokerHost))
		if host == "" {
			host = DefaultBroker
		}
		c.Brokers = strings.Split(host, ",")
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.ClientID == "" {
		c.ClientID = "topicsnap"
	}
	if c.AutoOffsetReset != ResetLatest {
		c.AutoOffsetReset = ResetEarliest
	}
	if c.FetchMaxWait == 0 {
		c.FetchMaxWait = 200 * time.Millisecond
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = 100 * time.Millisecond
	}
	if c.Poll.Deadline == 0 {
		c.Poll.Deadline = DefaultDeadline
	}
	if c.Codec.Key == "" {
		c.Codec.Key = KeyJSON
	}
	if c.Codec.OnError == "" {
		c.Codec.OnError = DecodeAbort
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}
	if c.Poll.Timeout < 0 || c.Poll.Deadline < 0 {
		errs = append(errs, errors.New("poll durations must not be negative"))
	}
	if c.Poll.MaxRecords < 0 {
		errs = append(errs, errors.New("poll.max_records must not be negative"))
	}
	if c.Codec.Key != KeyJSON && c.Codec.Key != KeyRaw {
		errs = append(errs, fmt.Errorf("codec.key %q is not valid (json|raw)", c.Codec.Key))
	}
	if c.Codec.OnError != DecodeAbort && c.Codec.OnError != DecodeSkip {
		errs = append(errs, fmt.Errorf("codec.on_error %q is not valid (abort|skip)", c.Codec.OnError))
	}
	switch c.Producer.RequiredAcks {
	case 0, 1, -1:
	default:
		errs = append(errs, fmt.Errorf("producer.required_acks %d is not valid (0|1|-1)", c.Producer.RequiredAcks))
	}
	if c.EnableAutoCommit && c.GroupID == "" {
		errs = append(errs, errors.New("enable_auto_commit requires group_id"))
	}
	return errors.Join(errs...)
}
