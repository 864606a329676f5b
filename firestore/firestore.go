// Package firestore provides a missive provider for Google Cloud Firestore.
// Uses collections for topics with document snapshots for subscription.
//
// Ack deletes the document. A nacked document stays in the collection and is
// delivered again when a new subscription starts.
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/missive"
	"google.golang.org/api/iterator"
)

// Provider implements missive.Provider for Firestore.
type Provider struct {
	client     *firestore.Client
	collection string
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets the Firestore client.
func WithClient(c *firestore.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// New creates a Firestore provider for the given collection.
func New(collection string, opts ...Option) *Provider {
	p := &Provider{
		collection: collection,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// document represents the structure stored in Firestore.
type document struct {
	Body    []byte            `firestore:"body"`
	Headers map[string]string `firestore:"headers,omitempty"`
	Created time.Time         `firestore:"created,serverTimestamp"`
}

// Publish adds msg to the collection as a new document.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}

	_, _, err = p.client.Collection(p.collection).Add(ctx, document{
		Body:    body,
		Headers: headers,
	})
	return err
}

// Subscribe watches the collection for added documents in creation order.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.client == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		snapshots := p.client.Collection(p.collection).OrderBy("created", firestore.Asc).Snapshots(ctx)
		defer snapshots.Stop()

		for {
			snapshot, err := snapshots.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) {
					return
				}
				select {
				case out <- missive.NewError[missive.Delivery](err):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, change := range snapshot.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}

				select {
				case out <- decode(change.Doc):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func decode(snap *firestore.DocumentSnapshot) missive.Result[missive.Delivery] {
	ref := snap.Ref
	// Background context: ack should succeed even if the subscription context is cancelled.
	remove := func() error {
		_, err := ref.Delete(context.Background())
		return err
	}

	var doc document
	if err := snap.DataTo(&doc); err != nil {
		_ = remove()
		return missive.NewError[missive.Delivery](err)
	}
	msg, err := missive.Decode(doc.Body, doc.Headers)
	if err != nil {
		_ = remove()
		return missive.NewError[missive.Delivery](err)
	}

	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		Ack:     remove,
		Nack: func() error {
			return nil
		},
	})
}

// Ping verifies Firestore connectivity by reading at most one document.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}
	iter := p.client.Collection(p.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// Close releases Firestore resources.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

var _ missive.Provider = (*Provider)(nil)
