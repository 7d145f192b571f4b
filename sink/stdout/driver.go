// topicsnap/sink/stdout/driver.go
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"topicsnap/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	Pretty       bool `yaml:"pretty"`        // indented JSON instead of one line
	PrintCounter bool `yaml:"print_counter"` // prepend seq#
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards out
	out io.Writer
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Push(_ context.Context, f sink.Frame) error {
	var (
		b   []byte
		err error
	)
	if d.cfg.Pretty {
		b, err = json.MarshalIndent(f, "", "  ")
	} else {
		b, err = json.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("stdout-sink: encode %s frame: %w", f.Query, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.PrintCounter {
		if _, err := fmt.Fprintf(d.out, "[sink %06d] ", f.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(d.out, "%s\n", b)
	return err
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
