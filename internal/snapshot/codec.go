package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"topicsnap/source/kafka"
)

// DefaultKey is sent with unkeyed publishes under the json key codec.
const DefaultKey = "NA"

type codec struct {
	key kafka.KeyCodec
}

func (c codec) decode(rec kafka.Record) (Row, error) {
	row := Row{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
	}
	if len(rec.Value) > 0 {
		if err := json.Unmarshal(rec.Value, &row.Value); err != nil {
			return row, fmt.Errorf("%w: %s[%d]@%d value: %w", ErrDeserialization, rec.Topic, rec.Partition, rec.Offset, err)
		}
	}
	key, err := c.decodeKey(rec.Key)
	if err != nil {
		return row, fmt.Errorf("%w: %s[%d]@%d key: %w", ErrDeserialization, rec.Topic, rec.Partition, rec.Offset, err)
	}
	row.Key = key
	return row, nil
}

// decodeKey yields the string form of a key: JSON strings are unquoted,
// other JSON documents keep their compact text.
func (c codec) decodeKey(b []byte) (string, error) {
	if c.key == kafka.KeyRaw || len(b) == 0 {
		return string(b), nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c codec) encodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c codec) encodeKey(key any, keyed bool) ([]byte, error) {
	if c.key == kafka.KeyRaw {
		switch k := key.(type) {
		case nil:
			return nil, nil
		case []byte:
			return k, nil
		case string:
			return []byte(k), nil
		default:
			return []byte(fmt.Sprint(k)), nil
		}
	}
	if !keyed {
		key = DefaultKey
	}
	return json.Marshal(key)
}
