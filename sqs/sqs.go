// Package sqs provides a missive provider for AWS SQS.
//
// Properties travel as String message attributes, so a message carries at
// most ten of them. Bytes bodies are base64 encoded because SQS bodies are text.
package sqs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/zoobzio/missive"
)

// Client is the subset of the SQS API the provider uses.
type Client interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Provider implements missive.Provider for SQS.
type Provider struct {
	client       Client
	queueURL     string
	messageGroup string
	waitSeconds  int32
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets the SQS client.
func WithClient(c Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithMessageGroup sets the message group for FIFO queues.
// The Message-Id property becomes the deduplication id.
func WithMessageGroup(group string) Option {
	return func(p *Provider) {
		p.messageGroup = group
	}
}

// WithWaitTime sets the long-polling wait in seconds (default: 20).
func WithWaitTime(seconds int32) Option {
	return func(p *Provider) {
		p.waitSeconds = seconds
	}
}

// New creates an SQS provider for the given queue URL.
func New(queueURL string, opts ...Option) *Provider {
	p := &Provider{
		queueURL:    queueURL,
		waitSeconds: 20,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to the queue.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.EncodeText(msg)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(headers)),
	}
	for k, v := range headers {
		input.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	if p.messageGroup != "" {
		input.MessageGroupId = aws.String(p.messageGroup)
		if id, ok := headers.GetString(missive.HeaderMessageID); ok {
			input.MessageDeduplicationId = aws.String(id)
		}
	}

	_, err = p.client.SendMessage(ctx, input)
	return err
}

// Subscribe long-polls the queue.
// Ack deletes the message. Nack makes it visible again immediately.
// Messages that cannot be decoded are deleted.
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

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			result, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              aws.String(p.queueURL),
				MaxNumberOfMessages:   10,
				WaitTimeSeconds:       p.waitSeconds,
				MessageAttributeNames: []string{"All"},
			})
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

			for _, m := range result.Messages {
				select {
				case out <- p.decode(ctx, m):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (p *Provider) decode(ctx context.Context, m types.Message) missive.Result[missive.Delivery] {
	props := make(missive.Properties, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			props[k] = *v.StringValue
		}
	}

	receipt := m.ReceiptHandle
	ack := func() error {
		_, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(p.queueURL),
			ReceiptHandle: receipt,
		})
		return err
	}

	msg, err := missive.DecodeText(aws.ToString(m.Body), props)
	if err != nil {
		_ = ack()
		return missive.NewError[missive.Delivery](err)
	}

	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		Ack:     ack,
		Nack: func() error {
			_, err := p.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(p.queueURL),
				ReceiptHandle:     receipt,
				VisibilityTimeout: 0,
			})
			return err
		},
	})
}

// Ping verifies the queue is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	return err
}

// Close releases SQS resources.
func (p *Provider) Close() error {
	return nil
}

var (
	_ missive.Provider = (*Provider)(nil)
	_ Client           = (*sqs.Client)(nil)
)
