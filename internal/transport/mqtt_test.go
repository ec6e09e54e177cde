package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	done := make(chan struct{})
	close(done)
	return &doneToken{err: err, done: done}
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeMQTTClient stands in for a paho client. Connect succeeds and runs the
// OnConnect handler asynchronously, as paho does.
type fakeMQTTClient struct {
	opts     *mqtt.ClientOptions
	connects atomic.Int32

	mu         sync.Mutex
	connected  bool
	publishErr error
	published  []fakeMessage
	handlers   map[string]mqtt.MessageHandler
}

func (c *fakeMQTTClient) IsConnected() bool { return c.IsConnectionOpen() }
func (c *fakeMQTTClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Connect() mqtt.Token {
	c.connects.Add(1)
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	go c.opts.OnConnect(c)
	return newDoneToken(nil)
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeMQTTClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newDoneToken(c.publishErr)
	}
	c.published = append(c.published, fakeMessage{topic: topic, payload: payload.([]byte)})
	return newDoneToken(nil)
}

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[topic] = callback
	return newDoneToken(nil)
}

func (c *fakeMQTTClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newDoneToken(nil)
}
func (c *fakeMQTTClient) Unsubscribe(...string) mqtt.Token     { return newDoneToken(nil) }
func (c *fakeMQTTClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(c.opts)
}

func (c *fakeMQTTClient) loseConnection(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

func (c *fakeMQTTClient) deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(c, fakeMessage{topic: topic, payload: payload})
	return true
}

func (c *fakeMQTTClient) sent() []fakeMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeMessage(nil), c.published...)
}

func newFakeMQTTLink(t *testing.T) (*MQTTLink, *fakeMQTTClient) {
	t.Helper()
	client := &fakeMQTTClient{}
	cfg := config.MQTTConfig{Broker: "tcp://127.0.0.1:1883", ClientID: "gestured", KeepAlive: 30, ConnectTimeout: 1000}
	link := newMQTTLink(cfg, "wrist", "watch-1", discardLogger(), func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	})
	return link, client
}

func TestMQTTLinkOptions(t *testing.T) {
	_, client := newFakeMQTTLink(t)
	require.NotNil(t, client.opts)
	assert.Equal(t, "gestured-watch-1", client.opts.ClientID)
	assert.True(t, client.opts.CleanSession)
	assert.True(t, client.opts.AutoReconnect)
	require.Len(t, client.opts.Servers, 1)
	assert.Equal(t, "127.0.0.1:1883", client.opts.Servers[0].Host)
}

func TestMQTTLinkConnectActivatesAndLossDeactivates(t *testing.T) {
	link, client := newFakeMQTTLink(t)
	tr := New(t.Context(), link, testConfig(), discardLogger())
	t.Cleanup(func() { _ = tr.Close() })
	received := &inbox{}
	tr.OnReceive(received.handle)

	var mu sync.Mutex
	var seen []State
	tr.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	tr.Start()
	require.Eventually(t, func() bool { return tr.State() == Active }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), client.connects.Load())

	payload, err := protocol.EncodeMotion(sample(7.5), time.Now())
	require.NoError(t, err)
	require.True(t, client.deliver(protocol.MotionTopic("wrist"), payload), "receiver subscribed on connect")
	require.Eventually(t, func() bool { return received.len() == 1 }, time.Second, 5*time.Millisecond)

	client.loseConnection(errors.New("broker gone"))
	mu.Lock()
	assert.Contains(t, seen, Unreachable)
	mu.Unlock()

	// The transport re-activates, which reconnects the client.
	require.Eventually(t, func() bool {
		return tr.State() == Active && client.connects.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMQTTLinkPublishesOnMotionTopic(t *testing.T) {
	link, client := newFakeMQTTLink(t)
	tr := New(t.Context(), link, testConfig(), discardLogger())
	t.Cleanup(func() { _ = tr.Close() })

	tr.Start()
	require.Eventually(t, func() bool { return tr.State() == Active }, time.Second, 5*time.Millisecond)

	s := sample(12.25)
	tr.Send(s)
	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MotionTopic("wrist"), msgs[0].topic)
	decoded, err := protocol.Decode(msgs[0].payload)
	require.NoError(t, err)
	motion, ok := decoded.(protocol.MotionMessage)
	require.True(t, ok)
	assert.Equal(t, s, motion.Sample)
}

func TestMQTTLinkReportsPublishFailure(t *testing.T) {
	link, client := newFakeMQTTLink(t)
	client.publishErr = errors.New("not authorized")

	errs := make(chan error, 1)
	link.Send([]byte("payload"), func(err error) { errs <- err })
	select {
	case err := <-errs:
		assert.EqualError(t, err, "not authorized")
	case <-time.After(time.Second):
		t.Fatal("publish failure was not reported")
	}
}

func TestMQTTLinkActivateWhenAlreadyConnected(t *testing.T) {
	link, client := newFakeMQTTLink(t)
	client.connected = true

	events := make(chan LinkEvent, 1)
	link.SetStateObserver(func(evt LinkEvent) { events <- evt })
	require.NoError(t, link.Activate(t.Context()))
	assert.Equal(t, Activated, (<-events).Kind)
	assert.Equal(t, int32(0), client.connects.Load())
}
