package testing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/missive"
)

func TestMockProvider_Publish(t *testing.T) {
	provider := NewMockProvider()

	msg := missive.NewTextMessage("test data")
	msg.Properties.SetString("key", "value")

	if err := provider.Publish(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.PublishCount() != 1 {
		t.Errorf("expected 1 published message, got %d", provider.PublishCount())
	}

	published := provider.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(published))
	}
	if published[0].Text != "test data" {
		t.Errorf("unexpected body: %s", published[0].Text)
	}
	if v, _ := published[0].Properties.GetString("key"); v != "value" {
		t.Errorf("unexpected properties: %v", published[0].Properties)
	}
}

func TestMockProvider_PublishCallback(t *testing.T) {
	var seen *missive.Message

	provider := NewMockProvider().WithPublishCallback(func(msg *missive.Message) {
		seen = msg
	})

	msg := missive.NewBytesMessage([]byte("callback test"))
	if err := provider.Publish(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != msg {
		t.Error("callback did not receive the published message")
	}
}

func TestMockProvider_PublishError(t *testing.T) {
	want := errors.New("broker down")
	provider := NewMockProvider().WithPublishError(want)

	err := provider.Publish(context.Background(), missive.NewTextMessage("x"))
	if !errors.Is(err, want) {
		t.Errorf("expected configured error, got %v", err)
	}
	if provider.PublishCount() != 1 {
		t.Error("failed publishes are still recorded")
	}
}

func TestMockProvider_Subscribe(t *testing.T) {
	ch := make(chan missive.Result[missive.Delivery], 1)
	provider := NewMockProvider().WithSubscribeChannel(ch)

	if subCh := provider.Subscribe(context.Background()); subCh != ch {
		t.Error("expected same channel")
	}
}

func TestMockProvider_SubscribeDefault(t *testing.T) {
	provider := NewMockProvider()

	ch := provider.Subscribe(context.Background())
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
}

func TestMockProvider_Loopback(t *testing.T) {
	ch := make(chan missive.Result[missive.Delivery], 1)
	provider := NewMockProvider().WithSubscribeChannel(ch).Loopback()

	msg := missive.NewTextMessage("echo")
	_ = provider.Publish(context.Background(), msg)

	select {
	case result := <-ch:
		if result.IsError() {
			t.Fatalf("unexpected error: %v", result.Error())
		}
		if result.Value().Message != msg {
			t.Error("expected the published message to loop back")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for loopback")
	}
}

func TestMockProvider_Close(t *testing.T) {
	provider := NewMockProvider()

	if provider.IsClosed() {
		t.Error("expected not closed initially")
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !provider.IsClosed() {
		t.Error("expected closed after Close()")
	}
}

func TestMockProvider_Ping(t *testing.T) {
	provider := NewMockProvider()

	if err := provider.Ping(context.Background()); err != nil {
		t.Errorf("expected no error on open provider, got %v", err)
	}

	_ = provider.Close()

	if err := provider.Ping(context.Background()); !errors.Is(err, missive.ErrNoWriter) {
		t.Errorf("expected ErrNoWriter on closed provider, got %v", err)
	}
}

func TestMockProvider_Reset(t *testing.T) {
	provider := NewMockProvider()

	_ = provider.Publish(context.Background(), missive.NewTextMessage("a"))
	_ = provider.Publish(context.Background(), missive.NewTextMessage("b"))

	if provider.PublishCount() != 2 {
		t.Errorf("expected 2 messages, got %d", provider.PublishCount())
	}

	provider.Reset()

	if provider.PublishCount() != 0 {
		t.Errorf("expected 0 messages after reset, got %d", provider.PublishCount())
	}
}

func TestMockProvider_Concurrent(t *testing.T) {
	provider := NewMockProvider()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = provider.Publish(context.Background(), missive.NewTextMessage("concurrent"))
		}()
	}
	wg.Wait()

	if provider.PublishCount() != 100 {
		t.Errorf("expected 100 messages, got %d", provider.PublishCount())
	}
}

func TestMockSession(t *testing.T) {
	session := NewMockSession()

	msg, err := session.CreateTextMessage("hi")
	if err != nil || msg.Text != "hi" {
		t.Fatalf("unexpected result %+v, %v", msg, err)
	}

	want := errors.New("session closed")
	session.Fail(want)

	if _, err := session.CreateBytesMessage(nil); !errors.Is(err, want) {
		t.Errorf("expected configured error, got %v", err)
	}
	if _, err := session.CreateMapMessage(nil); !errors.Is(err, want) {
		t.Errorf("expected configured error, got %v", err)
	}

	session.Fail(nil)
	if _, err := session.CreateTextMessage("ok"); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
	if session.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", session.Calls())
	}
}

func TestMockSession_WithConverter(t *testing.T) {
	type order struct{ ID string }

	registry := missive.NewTypeRegistry()
	_, _ = missive.Register[order](registry)
	conv := missive.NewJSONConverter(missive.WithTypeMapper(registry))

	session := NewMockSession()
	session.Fail(errors.New("session closed"))

	_, err := conv.ToMessage(order{ID: "1"}, session)
	var ce *missive.ConversionError
	if !errors.As(err, &ce) || ce.Reason != missive.ReasonTransport {
		t.Errorf("expected transport ConversionError, got %v", err)
	}
}

func TestNewTestDelivery(t *testing.T) {
	msg := missive.NewTextMessage("test")
	d := NewTestDelivery(msg)

	if d.Message != msg {
		t.Error("unexpected message")
	}
	if err := d.Ack(); err != nil {
		t.Errorf("unexpected ack error: %v", err)
	}
	if err := d.Nack(); err != nil {
		t.Errorf("unexpected nack error: %v", err)
	}
}

func TestNewTestDeliveryWithAck(t *testing.T) {
	var acked, nacked bool

	d := NewTestDeliveryWithAck(
		missive.NewTextMessage("test"),
		func() { acked = true },
		func() { nacked = true },
	)

	_ = d.Ack()
	if !acked {
		t.Error("expected ack callback to be called")
	}

	_ = d.Nack()
	if !nacked {
		t.Error("expected nack callback to be called")
	}
}

func TestMessageCapture(t *testing.T) {
	capture := NewMessageCapture()

	if capture.Count() != 0 {
		t.Errorf("expected 0 messages initially, got %d", capture.Count())
	}

	capture.Capture(missive.NewTextMessage("msg1"))
	capture.Capture(missive.NewTextMessage("msg2"))

	if capture.Count() != 2 {
		t.Errorf("expected 2 messages, got %d", capture.Count())
	}

	messages := capture.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Text != "msg1" {
		t.Errorf("unexpected first message: %s", messages[0].Text)
	}

	capture.Reset()
	if capture.Count() != 0 {
		t.Errorf("expected 0 messages after reset, got %d", capture.Count())
	}
}

func TestMessageCapture_WaitForCount(t *testing.T) {
	capture := NewMessageCapture()

	if capture.WaitForCount(1, 10*time.Millisecond) {
		t.Error("expected timeout")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		capture.Capture(missive.NewTextMessage("delayed"))
	}()

	if !capture.WaitForCount(1, 100*time.Millisecond) {
		t.Error("expected success")
	}
}

func TestErrorCapture(t *testing.T) {
	capture := NewErrorCapture()

	if capture.Count() != 0 {
		t.Errorf("expected 0 errors initially, got %d", capture.Count())
	}

	capture.Capture(missive.Error{Operation: "publish", Signal: "test", Err: "error1"})
	capture.Capture(missive.Error{Operation: "convert", Signal: "test", Err: "error2", Nack: true})

	if capture.Count() != 2 {
		t.Errorf("expected 2 errors, got %d", capture.Count())
	}

	ops := capture.Operations()
	if len(ops) != 2 || ops[0] != "publish" || ops[1] != "convert" {
		t.Errorf("unexpected operations %v", ops)
	}

	capture.Reset()
	if capture.Count() != 0 {
		t.Errorf("expected 0 errors after reset, got %d", capture.Count())
	}
}

func TestErrorCapture_Hook(t *testing.T) {
	c := capitan.New(capitan.WithSyncMode())
	defer c.Shutdown()

	capture := NewErrorCapture()
	unhook := capture.Hook(c)

	c.Emit(context.Background(), missive.ErrorSignal, missive.ErrorKey.Field(missive.Error{Operation: "ack"}))
	unhook()
	c.Emit(context.Background(), missive.ErrorSignal, missive.ErrorKey.Field(missive.Error{Operation: "nack"}))

	if ops := capture.Operations(); len(ops) != 1 || ops[0] != "ack" {
		t.Errorf("expected only the hooked error, got %v", ops)
	}
}

func TestErrorCapture_WaitForCount(t *testing.T) {
	capture := NewErrorCapture()

	if capture.WaitForCount(1, 10*time.Millisecond) {
		t.Error("expected timeout")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		capture.Capture(missive.Error{Operation: "test", Err: "delayed"})
	}()

	if !capture.WaitForCount(1, 100*time.Millisecond) {
		t.Error("expected success")
	}
}
