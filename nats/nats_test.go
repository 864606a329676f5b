package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/missive"
)

type Person struct {
	Name string
	Age  int
}

func startTestServer(t *testing.T) *nats.Conn {
	t.Helper()

	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // random port
	}
	s, err := server.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("server not ready")
	}
	t.Cleanup(s.Shutdown)

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	return nc
}

func next(t *testing.T, ch <-chan missive.Result[missive.Delivery]) missive.Result[missive.Delivery] {
	t.Helper()
	select {
	case result, ok := <-ch:
		require.True(t, ok, "channel closed early")
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	return missive.Result[missive.Delivery]{}
}

func TestProvider_PublishHeaders(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.subject", WithConn(nc))

	sub, err := nc.SubscribeSync("test.subject")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg := missive.NewTextMessage(`{"test":"data"}`)
	msg.Properties.SetString("__TypeId__", "example.Test")
	require.NoError(t, provider.Publish(context.Background(), msg))

	got, err := sub.NextMsg(time.Second)
	require.NoError(t, err)

	assert.Equal(t, `{"test":"data"}`, string(got.Data))
	assert.Equal(t, "text", got.Header.Get(missive.HeaderMessageKind))
	assert.Equal(t, []string{"example.Test"}, got.Header["__TypeId__"], "keys are not canonicalized")
}

func TestProvider_Subscribe(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.sub", WithConn(nc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := provider.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	raw := nats.NewMsg("test.sub")
	raw.Data = []byte("hello")
	raw.Header[missive.HeaderMessageKind] = []string{"text"}
	raw.Header["trace"] = []string{"abc", "ignored"}
	require.NoError(t, nc.PublishMsg(raw))
	require.NoError(t, nc.Flush())

	result := next(t, ch)
	require.NoError(t, result.Error())

	d := result.Value()
	assert.Equal(t, missive.KindText, d.Message.Kind)
	assert.Equal(t, "hello", d.Message.Text)
	trace, _ := d.Message.Properties.GetString("trace")
	assert.Equal(t, "abc", trace)
	assert.NoError(t, d.Ack())
	assert.NoError(t, d.Nack())
}

func TestProvider_SubscribeWithoutHeaders(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.raw", WithConn(nc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := provider.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, nc.Publish("test.raw", []byte{0x01, 0x02}))
	require.NoError(t, nc.Flush())

	result := next(t, ch)
	require.NoError(t, result.Error())
	assert.Equal(t, missive.KindBytes, result.Value().Message.Kind)
	assert.Equal(t, []byte{0x01, 0x02}, result.Value().Message.Bytes)
}

func TestProvider_SubscribeUnknownKind(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.bad", WithConn(nc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := provider.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	raw := nats.NewMsg("test.bad")
	raw.Header[missive.HeaderMessageKind] = []string{"stream"}
	require.NoError(t, nc.PublishMsg(raw))
	require.NoError(t, nc.Flush())

	result := next(t, ch)
	assert.ErrorIs(t, result.Error(), missive.ErrUnknownKind)
}

func TestProvider_TypedRoundTrip(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.typed", WithConn(nc))

	registry := missive.NewTypeRegistry()
	_, err := missive.Register[Person](registry)
	require.NoError(t, err)
	conv := missive.NewJSONConverter(missive.WithTypeMapper(registry))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := provider.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	msg, err := conv.ToMessage(Person{Name: "Alice", Age: 30}, missive.NewSession())
	require.NoError(t, err)
	require.NoError(t, provider.Publish(ctx, msg))

	result := next(t, ch)
	require.NoError(t, result.Error())

	v, err := conv.FromMessage(result.Value().Message)
	require.NoError(t, err)
	assert.Equal(t, Person{Name: "Alice", Age: 30}, v)
}

func TestProvider_QueueGroup(t *testing.T) {
	nc := startTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New("test.queue", WithConn(nc), WithQueueGroup("workers"))
	b := New("test.queue", WithConn(nc), WithQueueGroup("workers"))
	chA := a.Subscribe(ctx)
	chB := b.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, New("test.queue", WithConn(nc)).Publish(ctx, missive.NewTextMessage("once")))

	select {
	case r := <-chA:
		assert.Equal(t, "once", r.Value().Message.Text)
	case r := <-chB:
		assert.Equal(t, "once", r.Value().Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}

	select {
	case <-chA:
		t.Fatal("message delivered twice")
	case <-chB:
		t.Fatal("message delivered twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestProvider_NoConn(t *testing.T) {
	provider := New("test")

	assert.ErrorIs(t, provider.Publish(context.Background(), missive.NewTextMessage("x")), missive.ErrNoWriter)
	assert.ErrorIs(t, provider.Ping(context.Background()), missive.ErrNoWriter)

	ch := provider.Subscribe(context.Background())
	result, ok := <-ch
	require.True(t, ok)
	assert.ErrorIs(t, result.Error(), missive.ErrNoReader)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestProvider_PublishNilMessage(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.nil", WithConn(nc))

	assert.Error(t, provider.Publish(context.Background(), nil))
}

func TestProvider_PingClose(t *testing.T) {
	nc := startTestServer(t)
	provider := New("test.close", WithConn(nc))

	require.NoError(t, provider.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := provider.Subscribe(ctx)

	require.NoError(t, provider.Close())
	assert.True(t, nc.IsClosed())

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected channel to close")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}
