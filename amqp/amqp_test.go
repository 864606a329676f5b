package amqp

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/zoobzio/missive"
)

type Person struct {
	Name string
	Age  int
}

func setupRabbitMQ(t *testing.T) *amqp.Connection {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3-management-alpine")
	require.NoError(t, err, "failed to start rabbitmq")

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	conn, err := amqp.Dial(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func openChannel(t *testing.T, conn *amqp.Connection) *amqp.Channel {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	return ch
}

func setupTestQueue(t *testing.T, ch *amqp.Channel, name string) {
	t.Helper()
	_, err := ch.QueueDeclare(name, false, true, false, false, nil)
	require.NoError(t, err, "failed to declare queue")
}

func next(t *testing.T, ch <-chan missive.Result[missive.Delivery]) missive.Result[missive.Delivery] {
	t.Helper()
	select {
	case result, ok := <-ch:
		require.True(t, ok, "channel closed early")
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
	return missive.Result[missive.Delivery]{}
}

func TestProvider_PublishProperties(t *testing.T) {
	ch := openChannel(t, setupRabbitMQ(t))
	defer ch.Close()

	queueName := "missive-test-publish"
	setupTestQueue(t, ch, queueName)

	provider := New(queueName, WithChannel(ch), WithRoutingKey(queueName), WithPersistent())

	msg := missive.NewTextMessage(`{"test":"data"}`)
	msg.Properties.SetString("trace-id", "abc123")
	msg.Properties.SetString(missive.HeaderMessageID, "m-1")
	require.NoError(t, provider.Publish(context.Background(), msg))

	got, ok, err := ch.Get(queueName, true)
	require.NoError(t, err)
	require.True(t, ok, "expected message in queue")

	assert.Equal(t, `{"test":"data"}`, string(got.Body))
	assert.Equal(t, "abc123", got.Headers["trace-id"])
	assert.Equal(t, "text", got.Headers[missive.HeaderMessageKind])
	assert.Equal(t, missive.ContentTypeText, got.ContentType)
	assert.Equal(t, "m-1", got.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), got.DeliveryMode)
	assert.NotContains(t, got.Headers, missive.HeaderContentType)
}

func TestProvider_PublishNoChannel(t *testing.T) {
	provider := New("test-queue")

	err := provider.Publish(context.Background(), missive.NewTextMessage("x"))
	assert.ErrorIs(t, err, missive.ErrNoWriter)
}

func TestProvider_TypedRoundTrip(t *testing.T) {
	conn := setupRabbitMQ(t)
	ch := openChannel(t, conn)
	defer ch.Close()

	queueName := "missive-test-roundtrip"
	setupTestQueue(t, ch, queueName)

	registry := missive.NewTypeRegistry()
	_, err := missive.Register[Person](registry)
	require.NoError(t, err)
	conv := missive.NewJSONConverter(missive.WithTypeMapper(registry))

	publisher := New(queueName, WithChannel(ch), WithRoutingKey(queueName))
	subscriber := New(queueName, WithChannel(openChannel(t, conn)))
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := subscriber.Subscribe(ctx)

	msg, err := conv.ToMessage(Person{Name: "Alice", Age: 30}, missive.NewSession())
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, msg))

	result := next(t, results)
	require.NoError(t, result.Error())

	d := result.Value()
	ct, _ := d.Message.Properties.GetString(missive.HeaderContentType)
	assert.Equal(t, "application/json", ct)

	v, err := conv.FromMessage(d.Message)
	require.NoError(t, err)
	assert.Equal(t, Person{Name: "Alice", Age: 30}, v)
	assert.NoError(t, d.Ack())
}

func TestProvider_SubscribeForeignMessages(t *testing.T) {
	conn := setupRabbitMQ(t)
	ch := openChannel(t, conn)
	defer ch.Close()

	queueName := "missive-test-subscribe"
	setupTestQueue(t, ch, queueName)

	provider := New(queueName, WithChannel(openChannel(t, conn)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := provider.Subscribe(ctx)

	require.NoError(t, ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		Body:    []byte(`{"order":"1"}`),
		Headers: amqp.Table{"retries": int32(2), "tags": []any{"a", "b"}},
	}))

	result := next(t, results)
	require.NoError(t, result.Error())

	d := result.Value()
	assert.Equal(t, missive.KindBytes, d.Message.Kind)
	assert.Equal(t, []byte(`{"order":"1"}`), d.Message.Bytes)
	retries, _ := d.Message.Properties.GetString("retries")
	assert.Equal(t, "2", retries)
	tags, _ := d.Message.Properties.GetString("tags")
	assert.Equal(t, "a,b", tags)
	assert.NoError(t, d.Ack())
}

func TestProvider_NackRequeues(t *testing.T) {
	conn := setupRabbitMQ(t)
	ch := openChannel(t, conn)
	defer ch.Close()

	queueName := "missive-test-nack"
	setupTestQueue(t, ch, queueName)

	provider := New(queueName, WithChannel(openChannel(t, conn)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := provider.Subscribe(ctx)

	require.NoError(t, New(queueName, WithChannel(ch), WithRoutingKey(queueName)).
		Publish(ctx, missive.NewTextMessage("again")))

	first := next(t, results)
	require.NoError(t, first.Error())
	require.NoError(t, first.Value().Nack())

	second := next(t, results)
	require.NoError(t, second.Error())
	assert.Equal(t, "again", second.Value().Message.Text)
	assert.NoError(t, second.Value().Ack())
}

func TestProvider_SubscribeUndecodable(t *testing.T) {
	conn := setupRabbitMQ(t)
	ch := openChannel(t, conn)
	defer ch.Close()

	queueName := "missive-test-undecodable"
	setupTestQueue(t, ch, queueName)

	provider := New(queueName, WithChannel(openChannel(t, conn)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := provider.Subscribe(ctx)

	require.NoError(t, ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		Body:    []byte("x"),
		Headers: amqp.Table{missive.HeaderMessageKind: "stream"},
	}))

	result := next(t, results)
	assert.ErrorIs(t, result.Error(), missive.ErrUnknownKind)
}

func TestProvider_SubscribeNoChannel(t *testing.T) {
	provider := New("test-queue")

	ch := provider.Subscribe(context.Background())

	result, ok := <-ch
	require.True(t, ok, "expected error result before close")
	assert.ErrorIs(t, result.Error(), missive.ErrNoReader)

	_, ok = <-ch
	assert.False(t, ok, "expected closed channel after error")
}

func TestProvider_PingClose(t *testing.T) {
	ch := openChannel(t, setupRabbitMQ(t))

	provider := New("test-queue", WithChannel(ch))
	require.NoError(t, provider.Ping(context.Background()))

	require.NoError(t, provider.Close())
	assert.True(t, ch.IsClosed())
	assert.ErrorIs(t, provider.Ping(context.Background()), missive.ErrNoWriter)
}

func TestProvider_NilResources(t *testing.T) {
	provider := New("test-queue")

	assert.NoError(t, provider.Close())
	assert.ErrorIs(t, provider.Ping(context.Background()), missive.ErrNoWriter)
}

func TestHeaderValueToString(t *testing.T) {
	assert.Equal(t, "plain", headerValueToString("plain"))
	assert.Equal(t, "raw", headerValueToString([]byte("raw")))
	assert.Equal(t, "1,x", headerValueToString([]any{int64(1), "x"}))
	assert.Equal(t, "true", headerValueToString(true))
}
