package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"broadcast/internal/proto"
)

// DefaultMaxLineBytes bounds one inbound envelope line.
const DefaultMaxLineBytes = 1 << 20

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Sender emits one envelope.
type Sender interface {
	Send(m proto.Message) error
}

// Receiver yields inbound envelopes one at a time. It returns io.EOF once
// the underlying stream is closed.
type Receiver interface {
	Recv() (proto.Message, error)
}

// Transport is a bidirectional envelope stream.
type Transport interface {
	Sender
	Receiver
}

// Line is a line-delimited JSON transport over a reader and a writer.
// Recv must be called from a single goroutine; Send is safe for concurrent use.
type Line struct {
	scanner *bufio.Scanner

	mu sync.Mutex
	w  *bufio.Writer
}

// NewLine creates a line transport. maxLine <= 0 selects DefaultMaxLineBytes.
func NewLine(r io.Reader, w io.Writer, maxLine int) *Line {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	initial := 64 * 1024
	if initial > maxLine {
		initial = maxLine
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initial), maxLine)
	return &Line{
		scanner: sc,
		w:       bufio.NewWriter(w),
	}
}

// Recv reads the next non-blank line and decodes it.
func (l *Line) Recv() (proto.Message, error) {
	for l.scanner.Scan() {
		line := bytes.TrimSpace(l.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return proto.Decode(line)
	}
	if err := l.scanner.Err(); err != nil {
		return proto.Message{}, fmt.Errorf("read envelope: %w", err)
	}
	return proto.Message{}, io.EOF
}

// Send encodes m and writes it as a single line, flushing immediately.
func (l *Line) Send(m proto.Message) error {
	data, err := proto.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s to %s: %w", m.Body.Type(), m.Dest, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush envelope: %w", err)
	}
	return nil
}
