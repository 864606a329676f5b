// Package sns provides a missive provider for AWS SNS.
// SNS is publish-only; use the sqs package for subscribing.
//
// Messages use the same attribute layout as the sqs package, so an SQS queue
// subscribed with raw message delivery yields the original message.
package sns

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/zoobzio/missive"
)

// Client is the subset of the SNS API the provider uses.
type Client interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, in *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// Provider implements missive.Provider for AWS SNS.
// Note: SNS is publish-only. Subscribe returns a closed channel.
type Provider struct {
	client       Client
	topicARN     string
	messageGroup string
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets the SNS client.
func WithClient(c Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithMessageGroup sets the message group for FIFO topics.
// The Message-Id property becomes the deduplication id.
func WithMessageGroup(group string) Option {
	return func(p *Provider) {
		p.messageGroup = group
	}
}

// New creates an SNS provider for the given topic ARN.
func New(topicARN string, opts ...Option) *Provider {
	p := &Provider{
		topicARN: topicARN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to the topic.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.EncodeText(msg)
	if err != nil {
		return err
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(body),
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

	_, err = p.client.Publish(ctx, input)
	return err
}

// Subscribe returns a closed channel. SNS does not support direct subscription.
// Use SQS with an SNS subscription for consuming messages.
func (*Provider) Subscribe(_ context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])
	close(out)
	return out
}

// Ping verifies SNS connectivity by getting topic attributes.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}
	_, err := p.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{
		TopicArn: aws.String(p.topicARN),
	})
	return err
}

// Close releases SNS resources.
func (*Provider) Close() error {
	return nil
}

var (
	_ missive.Provider = (*Provider)(nil)
	_ Client           = (*sns.Client)(nil)
)
