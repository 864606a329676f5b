// Package io provides a missive provider for io.Reader/io.Writer.
// Useful for testing, CLI piping, and file-based messaging.
//
// Each message is written as one JSON record followed by the delimiter:
//
//	{"headers":{"Message-Kind":"text","__TypeId__":"..."},"body":"eyJOYW1lIjoiQWxpY2UifQ=="}
//
// The body is base64 encoded, so the delimiter never appears inside a record.
package io

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/zoobzio/missive"
)

// record is the on-stream framing of a single message.
type record struct {
	Headers missive.Properties `json:"headers,omitempty"`
	Body    []byte             `json:"body"`
}

// Provider implements missive.Provider for io.Reader/io.Writer.
type Provider struct {
	reader    io.Reader
	writer    io.Writer
	delimiter byte
	mu        sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithReader sets the io.Reader for subscribing.
func WithReader(r io.Reader) Option {
	return func(p *Provider) {
		p.reader = r
	}
}

// WithWriter sets the io.Writer for publishing.
func WithWriter(w io.Writer) Option {
	return func(p *Provider) {
		p.writer = w
	}
}

// WithDelimiter sets the record delimiter (default: newline).
func WithDelimiter(d byte) Option {
	return func(p *Provider) {
		p.delimiter = d
	}
}

// New creates an io provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		delimiter: '\n',
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes msg as one record followed by the delimiter.
func (p *Provider) Publish(_ context.Context, msg *missive.Message) error {
	if p.writer == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}
	line, err := json.Marshal(record{Headers: headers, Body: body})
	if err != nil {
		return fmt.Errorf("io: encode record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.writer.Write(append(line, p.delimiter)); err != nil {
		return err
	}
	return nil
}

// Subscribe reads records from the reader, splitting on the delimiter.
// A record that cannot be parsed is reported as an error result and skipped.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.reader == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(p.reader)
		if p.delimiter != '\n' {
			scanner.Split(splitFunc(p.delimiter))
		}

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if len(scanner.Bytes()) == 0 {
				continue
			}

			result := decodeRecord(scanner.Bytes())
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case out <- missive.NewError[missive.Delivery](err):
			case <-ctx.Done():
			}
		}
	}()

	return out
}

func decodeRecord(line []byte) missive.Result[missive.Delivery] {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return missive.NewError[missive.Delivery](fmt.Errorf("io: decode record: %w", err))
	}
	msg, err := missive.Decode(rec.Body, rec.Headers)
	if err != nil {
		return missive.NewError[missive.Delivery](err)
	}
	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		// No-op for io: data is consumed.
		Ack: func() error { return nil },
		// No-op for io: streams cannot rewind.
		Nack: func() error { return nil },
	})
}

// Ping reports whether the provider has a reader or writer configured.
func (p *Provider) Ping(_ context.Context) error {
	if p.reader == nil && p.writer == nil {
		return missive.ErrNoWriter
	}
	return nil
}

// Close is a no-op for io provider.
// The caller is responsible for closing the underlying reader/writer.
func (p *Provider) Close() error {
	return nil
}

// splitFunc returns a bufio.SplitFunc for the given delimiter.
func splitFunc(delim byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		for i, b := range data {
			if b == delim {
				return i + 1, data[:i], nil
			}
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

var _ missive.Provider = (*Provider)(nil)
