package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iomekam/dapp-inter/internal/vstorage"
)

type updateRecord struct {
	Time        time.Time `json:"time" yaml:"time"`
	Kind        string    `json:"kind" yaml:"kind"`
	Path        string    `json:"path" yaml:"path"`
	BlockHeight int64     `json:"blockHeight,omitempty" yaml:"blockHeight,omitempty"`
	Value       any       `json:"value,omitempty" yaml:"value,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

type recordEncoder interface {
	Encode(value any) error
}

// updateWriter serializes records from concurrent callbacks onto one
// stream, as JSON lines or YAML documents.
type updateWriter struct {
	mu      sync.Mutex
	encoder recordEncoder
	closer  io.Closer
	now     func() time.Time
	err     error
	closed  bool
}

func newUpdateWriter(out io.Writer, format string) (*updateWriter, error) {
	writer := &updateWriter{now: time.Now}
	switch format {
	case formatJSON:
		writer.encoder = json.NewEncoder(out)
	case formatYAML:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		writer.encoder = encoder
		writer.closer = encoder
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return writer, nil
}

func (w *updateWriter) Update(path vstorage.Path, value vstorage.Value) {
	w.write(updateRecord{
		Kind:        path.Kind.String(),
		Path:        path.Name,
		BlockHeight: value.BlockHeight,
		Value:       value.Data,
	})
}

func (w *updateWriter) Error(path vstorage.Path, message string) {
	w.write(updateRecord{
		Kind:  path.Kind.String(),
		Path:  path.Name,
		Error: message,
	})
}

func (w *updateWriter) write(record updateRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.err != nil {
		return
	}
	record.Time = w.now().UTC()
	w.err = w.encoder.Encode(record)
}

// Close flushes the YAML stream and returns the first write error.
func (w *updateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.closer != nil {
		if err := w.closer.Close(); err != nil && w.err == nil {
			w.err = err
		}
		w.closer = nil
	}
	return w.err
}
