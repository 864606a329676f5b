// Package bolt provides a missive provider for BoltDB (bbolt).
// Uses buckets for topics with sequential keys for ordering.
//
// Each value is a JSON record holding the message headers and body.
// Subscribers poll the bucket. Ack deletes the entry and Nack makes it
// eligible for the next poll.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/missive"
	"go.etcd.io/bbolt"
)

type record struct {
	Headers missive.Properties `json:"headers,omitempty"`
	Body    []byte             `json:"body"`
}

// Provider implements missive.Provider for BoltDB.
type Provider struct {
	db           *bbolt.DB
	bucket       string
	pollInterval time.Duration
	batchSize    int

	mu       sync.Mutex
	inflight map[uint64]struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithDB sets the BoltDB connection.
func WithDB(db *bbolt.DB) Option {
	return func(p *Provider) {
		p.db = db
	}
}

// WithPollInterval sets how often to poll for new messages.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// WithBatchSize sets how many messages to fetch per poll.
func WithBatchSize(n int) Option {
	return func(p *Provider) {
		p.batchSize = n
	}
}

// New creates a BoltDB provider for the given bucket (topic).
func New(bucket string, opts ...Option) *Provider {
	p := &Provider{
		bucket:       bucket,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
		inflight:     make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish appends msg to the bucket under the next sequence number.
func (p *Provider) Publish(_ context.Context, msg *missive.Message) error {
	if p.db == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}
	value, err := json.Marshal(record{Headers: headers, Body: body})
	if err != nil {
		return fmt.Errorf("bolt: encode record: %w", err)
	}

	return p.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(p.bucket))
		if err != nil {
			return err
		}

		id, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)

		return b.Put(key, value)
	})
}

type entry struct {
	seq   uint64
	key   []byte
	value []byte
}

// Subscribe polls the bucket for entries that are not already in flight.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.db == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				entries, err := p.poll()
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					select {
					case out <- missive.NewError[missive.Delivery](err):
					case <-ctx.Done():
						return
					}
					continue
				}

				for i, e := range entries {
					result := p.decode(e)
					select {
					case out <- result:
					case <-ctx.Done():
						// Unsent entries go back to the bucket for the next subscriber.
						for _, rest := range entries[i:] {
							p.release(rest.seq)
						}
						return
					}
				}
			}
		}
	}()

	return out
}

// poll claims up to batchSize entries that are not in flight.
func (p *Provider) poll() ([]entry, error) {
	var entries []entry

	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.bucket))
		if b == nil {
			return nil
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		c := b.Cursor()
		for k, v := c.First(); k != nil && len(entries) < p.batchSize; k, v = c.Next() {
			seq := binary.BigEndian.Uint64(k)
			if _, busy := p.inflight[seq]; busy {
				continue
			}
			p.inflight[seq] = struct{}{}

			// Keys and values are only valid during the transaction.
			entries = append(entries, entry{
				seq:   seq,
				key:   append([]byte(nil), k...),
				value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	return entries, err
}

func (p *Provider) release(seq uint64) {
	p.mu.Lock()
	delete(p.inflight, seq)
	p.mu.Unlock()
}

func (p *Provider) remove(e entry) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.bucket))
		if b == nil {
			return nil
		}
		return b.Delete(e.key)
	})
	p.release(e.seq)
	return err
}

func (p *Provider) decode(e entry) missive.Result[missive.Delivery] {
	var rec record
	if err := json.Unmarshal(e.value, &rec); err != nil {
		_ = p.remove(e)
		return missive.NewError[missive.Delivery](fmt.Errorf("bolt: decode record: %w", err))
	}
	msg, err := missive.Decode(rec.Body, rec.Headers)
	if err != nil {
		_ = p.remove(e)
		return missive.NewError[missive.Delivery](err)
	}

	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		Ack: func() error {
			return p.remove(e)
		},
		Nack: func() error {
			p.release(e.seq)
			return nil
		},
	})
}

// Ping verifies the database is open.
func (p *Provider) Ping(_ context.Context) error {
	if p.db == nil {
		return missive.ErrNoWriter
	}
	return p.db.View(func(*bbolt.Tx) error { return nil })
}

// Close releases BoltDB resources.
func (p *Provider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

var _ missive.Provider = (*Provider)(nil)
