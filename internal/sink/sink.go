// Package sink delivers accepted frames to subscribers. Every sink takes the
// 8-byte wire record; delivery is fire-and-forget and a failed publish never
// stops the receiver.
package sink

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

// Errors returned by sinks.
var (
	ErrClosed         = errors.New("sink: closed")
	ErrPublishTimeout = errors.New("sink: publish timed out")
)

// Sink publishes frame records. Close releases the underlying transport;
// Publish after Close returns ErrClosed.
type Sink interface {
	Publish(rec frame.Record) error
	Close() error
}

// Func adapts a function to Sink. Close is a no-op.
type Func func(rec frame.Record) error

// Publish calls f(rec).
func (f Func) Publish(rec frame.Record) error { return f(rec) }

// Close does nothing.
func (Func) Close() error { return nil }

// Multi publishes to every sink in order and joins their errors.
type Multi []Sink

// Publish sends rec to all sinks, even when some fail.
func (m Multi) Publish(rec frame.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collector keeps every record in memory. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []frame.Record
}

// Publish appends rec.
func (c *Collector) Publish(rec frame.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

// Records returns a copy of everything published so far.
func (c *Collector) Records() []frame.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Record(nil), c.records...)
}

// Close does nothing; the records stay readable.
func (c *Collector) Close() error { return nil }

// Writer appends records to an io.Writer, either as raw 8-byte records or as
// one text line per record.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	text   bool
	buf    []byte
	closed bool
}

// NewWriter writes raw wire records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, frame.Size)}
}

// NewTextWriter writes one "A1 23 45 6E | 0" line per record to w.
func NewTextWriter(w io.Writer) *Writer {
	return &Writer{w: w, text: true}
}

// Publish writes rec.
func (s *Writer) Publish(rec frame.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.text {
		if _, err := fmt.Fprintln(s.w, rec); err != nil {
			return fmt.Errorf("sink: write record: %w", err)
		}
		return nil
	}

	s.buf, _ = rec.AppendBinary(s.buf[:0])
	if _, err := s.w.Write(s.buf); err != nil {
		return fmt.Errorf("sink: write record: %w", err)
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
