package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeBroker routes publishes to subscribers in-process, retaining
// messages the way a real broker would.
type fakeBroker struct {
	mu       sync.Mutex
	subs     map[string][]mqtt.MessageHandler
	retained map[string][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:     make(map[string][]mqtt.MessageHandler),
		retained: make(map[string][]byte),
	}
}

func (b *fakeBroker) publish(topic string, retained bool, payload []byte) {
	b.mu.Lock()
	if retained {
		b.retained[topic] = append([]byte(nil), payload...)
	}
	handlers := append([]mqtt.MessageHandler(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(nil, &fakeMessage{topic: topic, payload: payload, retained: retained})
	}
}

func (b *fakeBroker) subscribe(topic string, cb mqtt.MessageHandler) {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], cb)
	replay, ok := b.retained[topic]
	b.mu.Unlock()

	if ok {
		cb(nil, &fakeMessage{topic: topic, payload: replay, retained: true})
	}
}

// fakeClient satisfies MQTTClient against the fake broker.
type fakeClient struct {
	broker    *fakeBroker
	connected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) { c.connected = false }

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.broker.publish(topic, retained, payload.([]byte))
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.broker.subscribe(topic, cb)
	return doneToken{}
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// mqttPair connects two links through one fake broker.
func mqttPair(t *testing.T) (*MQTTLink, *MQTTLink, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	factory := func(*mqtt.ClientOptions) MQTTClient {
		return &fakeClient{broker: broker}
	}

	optsA := MQTTOptions{BrokerURL: "fake://", PairID: "p1", DeviceID: "ctrl", PeerID: "watch"}
	optsB := MQTTOptions{BrokerURL: "fake://", PairID: "p1", DeviceID: "watch", PeerID: "ctrl"}

	a := NewMQTTWithClient(optsA, nil, factory)
	b := NewMQTTWithClient(optsB, nil, factory)
	if err := a.Start(optsA); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(optsB); err != nil {
		t.Fatalf("start b: %v", err)
	}
	// The fake client has no connect callback; subscribe explicitly.
	if err := a.subscribe(); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if err := b.subscribe(); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b, broker
}

func TestMQTTInteractiveRoundTrip(t *testing.T) {
	a, b, _ := mqttPair(t)
	b.SetHandler(&captureHandler{reply: []byte("pong")})

	reply, err := a.SendInteractive(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("SendInteractive: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}
}

func TestMQTTFireAndForget(t *testing.T) {
	a, b, _ := mqttPair(t)
	h := &captureHandler{}
	b.SetHandler(h)

	if err := a.SendFireAndForget(context.Background(), []byte("note")); err != nil {
		t.Fatalf("SendFireAndForget: %v", err)
	}
	if h.messageCount() != 1 || string(h.messages[0]) != "note" {
		t.Errorf("peer messages = %v", h.messages)
	}
}

func TestMQTTRetainedStateReplaysOnSubscribe(t *testing.T) {
	broker := newFakeBroker()
	factory := func(*mqtt.ClientOptions) MQTTClient {
		return &fakeClient{broker: broker}
	}

	optsA := MQTTOptions{BrokerURL: "fake://", PairID: "p1", DeviceID: "ctrl", PeerID: "watch"}
	a := NewMQTTWithClient(optsA, nil, factory)
	if err := a.Start(optsA); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Close()

	// Publish the slot before the peer ever subscribes.
	if err := a.UpdateLatestState(context.Background(), []byte("latest")); err != nil {
		t.Fatalf("UpdateLatestState: %v", err)
	}

	// The peer connects late and still receives the retained slot.
	optsB := MQTTOptions{BrokerURL: "fake://", PairID: "p1", DeviceID: "watch", PeerID: "ctrl"}
	b := NewMQTTWithClient(optsB, nil, factory)
	if err := b.Start(optsB); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Close()

	h := &captureHandler{}
	b.SetHandler(h)
	if err := b.subscribe(); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if got := string(h.lastState()); got != "latest" {
		t.Errorf("replayed state = %q, want latest", got)
	}
}

func TestMQTTClosePendingInteractiveFails(t *testing.T) {
	a, _, _ := mqttPair(t)
	// The peer has no handler, so no reply arrives and the send blocks.

	errCh := make(chan error, 1)
	go func() {
		_, err := a.SendInteractive(context.Background(), []byte("x"))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("pending send after Close = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending send did not fail after Close")
	}
}

func TestMQTTUnreachableAfterClose(t *testing.T) {
	a, _, _ := mqttPair(t)
	a.Close()

	if a.Reachable() {
		t.Error("closed link should be unreachable")
	}
	if _, err := a.SendInteractive(context.Background(), []byte("x")); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}
