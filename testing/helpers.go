// Package testing provides test utilities for applications built on missive.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/missive"
)

// MockProvider is an in-memory provider for verifying publish/subscribe behavior.
// Thread-safe for concurrent use in tests.
type MockProvider struct {
	mu         sync.Mutex
	published  []*missive.Message
	subCh      chan missive.Result[missive.Delivery]
	closed     bool
	publishErr error
	onPublish  func(msg *missive.Message)
}

// NewMockProvider creates a new MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		published: make([]*missive.Message, 0),
	}
}

// WithSubscribeChannel sets a channel for delivering messages during Subscribe.
func (m *MockProvider) WithSubscribeChannel(ch chan missive.Result[missive.Delivery]) *MockProvider {
	m.subCh = ch
	return m
}

// WithPublishCallback sets a callback invoked on each Publish call.
func (m *MockProvider) WithPublishCallback(fn func(msg *missive.Message)) *MockProvider {
	m.onPublish = fn
	return m
}

// WithPublishError makes every Publish call fail with err after recording the message.
func (m *MockProvider) WithPublishError(err error) *MockProvider {
	m.publishErr = err
	return m
}

// Publish records msg.
func (m *MockProvider) Publish(_ context.Context, msg *missive.Message) error {
	m.mu.Lock()
	m.published = append(m.published, msg)
	onPublish := m.onPublish
	publishErr := m.publishErr
	m.mu.Unlock()

	if onPublish != nil {
		onPublish(msg)
	}
	return publishErr
}

// Subscribe returns the configured channel or a closed channel if none is set.
func (m *MockProvider) Subscribe(_ context.Context) <-chan missive.Result[missive.Delivery] {
	if m.subCh != nil {
		return m.subCh
	}
	ch := make(chan missive.Result[missive.Delivery])
	close(ch)
	return ch
}

// Ping fails once the provider is closed.
func (m *MockProvider) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return missive.ErrNoWriter
	}
	return nil
}

// Close marks the provider as closed.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Published returns a copy of all published messages.
func (m *MockProvider) Published() []*missive.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*missive.Message, len(m.published))
	copy(result, m.published)
	return result
}

// PublishCount returns the number of published messages.
func (m *MockProvider) PublishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// IsClosed returns whether Close has been called.
func (m *MockProvider) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all published messages.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = m.published[:0]
}

// Loopback feeds every published message back through the subscribe channel,
// so a Publisher and Subscriber can be wired end to end without a broker.
// The channel must be set with WithSubscribeChannel.
func (m *MockProvider) Loopback() *MockProvider {
	return m.WithPublishCallback(func(msg *missive.Message) {
		m.subCh <- missive.NewSuccess(NewTestDelivery(msg))
	})
}

// MockSession is a missive.Session whose create calls can be made to fail.
type MockSession struct {
	mu    sync.Mutex
	err   error
	calls int
}

// NewMockSession creates a session that succeeds until Fail is called.
func NewMockSession() *MockSession {
	return &MockSession{}
}

// Fail makes subsequent create calls return err. A nil err restores success.
func (s *MockSession) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of create calls made.
func (s *MockSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *MockSession) create(build func() *missive.Message) (*missive.Message, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return build(), nil
}

// CreateTextMessage implements missive.Session.
func (s *MockSession) CreateTextMessage(text string) (*missive.Message, error) {
	return s.create(func() *missive.Message { return missive.NewTextMessage(text) })
}

// CreateBytesMessage implements missive.Session.
func (s *MockSession) CreateBytesMessage(data []byte) (*missive.Message, error) {
	return s.create(func() *missive.Message { return missive.NewBytesMessage(data) })
}

// CreateMapMessage implements missive.Session.
func (s *MockSession) CreateMapMessage(body map[string]any) (*missive.Message, error) {
	return s.create(func() *missive.Message { return missive.NewMapMessage(body) })
}

// NewTestDelivery wraps msg with no-op ack/nack.
func NewTestDelivery(msg *missive.Message) missive.Delivery {
	return missive.Delivery{
		Message: msg,
		Ack:     func() error { return nil },
		Nack:    func() error { return nil },
	}
}

// NewTestDeliveryWithAck wraps msg with tracking ack/nack functions.
func NewTestDeliveryWithAck(msg *missive.Message, onAck, onNack func()) missive.Delivery {
	return missive.Delivery{
		Message: msg,
		Ack: func() error {
			if onAck != nil {
				onAck()
			}
			return nil
		},
		Nack: func() error {
			if onNack != nil {
				onNack()
			}
			return nil
		},
	}
}

// MessageCapture captures messages for verification.
// Thread-safe for concurrent capture.
type MessageCapture struct {
	messages []*missive.Message
	mu       sync.Mutex
}

// NewMessageCapture creates a new MessageCapture.
func NewMessageCapture() *MessageCapture {
	return &MessageCapture{
		messages: make([]*missive.Message, 0),
	}
}

// Capture adds a message to the capture.
func (mc *MessageCapture) Capture(msg *missive.Message) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.messages = append(mc.messages, msg)
}

// Messages returns a copy of all captured messages.
func (mc *MessageCapture) Messages() []*missive.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	result := make([]*missive.Message, len(mc.messages))
	copy(result, mc.messages)
	return result
}

// Count returns the number of captured messages.
func (mc *MessageCapture) Count() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.messages)
}

// Reset clears all captured messages.
func (mc *MessageCapture) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.messages = mc.messages[:0]
}

// WaitForCount blocks until the capture has at least n messages or timeout occurs.
// Returns true if count reached, false if timeout.
func (mc *MessageCapture) WaitForCount(n int, timeout time.Duration) bool {
	return waitFor(mc.Count, n, timeout)
}

// ErrorCapture captures missive errors.
type ErrorCapture struct {
	errors []missive.Error
	mu     sync.Mutex
}

// NewErrorCapture creates a new ErrorCapture.
func NewErrorCapture() *ErrorCapture {
	return &ErrorCapture{
		errors: make([]missive.Error, 0),
	}
}

// Hook registers the capture on c's ErrorSignal and returns a func that removes it.
func (ec *ErrorCapture) Hook(c *capitan.Capitan) func() {
	listener := c.Hook(missive.ErrorSignal, func(_ context.Context, e *capitan.Event) {
		if err, ok := missive.ErrorKey.From(e); ok {
			ec.Capture(err)
		}
	})
	return func() { listener.Close() }
}

// Capture adds an error to the capture.
func (ec *ErrorCapture) Capture(err missive.Error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = append(ec.errors, err)
}

// Errors returns a copy of all captured errors.
func (ec *ErrorCapture) Errors() []missive.Error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	result := make([]missive.Error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// Operations returns the Operation of each captured error, in order.
func (ec *ErrorCapture) Operations() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ops := make([]string, len(ec.errors))
	for i, err := range ec.errors {
		ops[i] = err.Operation
	}
	return ops
}

// Count returns the number of captured errors.
func (ec *ErrorCapture) Count() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.errors)
}

// Reset clears all captured errors.
func (ec *ErrorCapture) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = ec.errors[:0]
}

// WaitForCount blocks until the capture has at least n errors or timeout occurs.
func (ec *ErrorCapture) WaitForCount(n int, timeout time.Duration) bool {
	return waitFor(ec.Count, n, timeout)
}

func waitFor(count func() int, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

var (
	_ missive.Provider = (*MockProvider)(nil)
	_ missive.Session  = (*MockSession)(nil)
)
