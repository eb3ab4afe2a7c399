package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTT topic layout. Each device owns an inbox; the latest-state slot is
// a retained message, which the broker replays to the peer on reconnect.
const (
	inboxTopic = "caddielink/%s/%s/inbox" // pair ID, device ID
	replyTopic = "caddielink/%s/%s/reply" // pair ID, device ID
	stateTopic = "caddielink/%s/%s/state" // pair ID, device ID
)

// replyTimeout bounds an interactive send; exceeding it is a transport
// failure.
const replyTimeout = 10 * time.Second

// MQTTClient is the subset of the paho client the link uses, extracted so
// tests can substitute a fake broker.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// mqttEnvelope frames link traffic on the wire. Interactive sends carry a
// correlation ID the reply echoes back.
type mqttEnvelope struct {
	CorrID  string `json:"corr_id,omitempty"`
	Payload []byte `json:"payload"`
}

// MQTTLink carries peer traffic over a broker both devices can reach.
type MQTTLink struct {
	pairID   string
	deviceID string
	peerID   string
	logger   *slog.Logger

	client MQTTClient

	mu      sync.Mutex
	handler Handler
	pending map[string]chan []byte // corrID -> reply
	closed  bool

	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
}

// MQTTOptions configures the broker connection. Token is the pairing JWT
// presented as the password.
type MQTTOptions struct {
	BrokerURL string
	PairID    string
	DeviceID  string
	PeerID    string
	Token     string
}

// NewMQTT creates an MQTT link. Call Start before use.
func NewMQTT(opts MQTTOptions, logger *slog.Logger) *MQTTLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTLink{
		pairID:   opts.PairID,
		deviceID: opts.DeviceID,
		peerID:   opts.PeerID,
		logger:   logger.With("link", "mqtt"),
		pending:  make(map[string]chan []byte),
		clientFactory: func(o *mqtt.ClientOptions) MQTTClient {
			return &pahoClient{client: mqtt.NewClient(o)}
		},
	}
}

// NewMQTTWithClient substitutes a custom client factory for tests.
func NewMQTTWithClient(opts MQTTOptions, logger *slog.Logger, factory func(*mqtt.ClientOptions) MQTTClient) *MQTTLink {
	l := NewMQTT(opts, logger)
	l.clientFactory = factory
	return l
}

// Start connects to the broker and subscribes to this device's topics.
func (l *MQTTLink) Start(opts MQTTOptions) error {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(fmt.Sprintf("caddielink-%s-%s", opts.PairID, opts.DeviceID))
	o.SetUsername(opts.DeviceID)
	o.SetPassword(opts.Token)
	o.SetKeepAlive(30 * time.Second)
	o.SetPingTimeout(10 * time.Second)
	o.SetAutoReconnect(true)
	o.SetMaxReconnectInterval(30 * time.Second)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.logger.Warn("mqtt connection lost", "error", err)
	})
	o.SetOnConnectHandler(func(_ mqtt.Client) {
		l.logger.Info("mqtt connected, subscribing")
		if err := l.subscribe(); err != nil {
			l.logger.Error("failed to subscribe", "error", err)
		}
	})

	l.client = l.clientFactory(o)
	token := l.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (l *MQTTLink) subscribe() error {
	inbox := fmt.Sprintf(inboxTopic, l.pairID, l.deviceID)
	if token := l.client.Subscribe(inbox, 1, l.onInbox); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", inbox, token.Error())
	}
	reply := fmt.Sprintf(replyTopic, l.pairID, l.deviceID)
	if token := l.client.Subscribe(reply, 1, l.onReply); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", reply, token.Error())
	}
	state := fmt.Sprintf(stateTopic, l.pairID, l.deviceID)
	if token := l.client.Subscribe(state, 1, l.onState); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", state, token.Error())
	}
	return nil
}

func (l *MQTTLink) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *MQTTLink) Reachable() bool {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	return !closed && l.client != nil && l.client.IsConnected()
}

func (l *MQTTLink) SendInteractive(ctx context.Context, payload []byte) ([]byte, error) {
	if !l.Reachable() {
		return nil, ErrUnreachable
	}

	corrID := uuid.New().String()
	replyCh := make(chan []byte, 1)
	l.mu.Lock()
	l.pending[corrID] = replyCh
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, corrID)
		l.mu.Unlock()
	}()

	if err := l.publish(fmt.Sprintf(inboxTopic, l.pairID, l.peerID), false, mqttEnvelope{CorrID: corrID, Payload: payload}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-replyCh:
		if !ok {
			// Close drained the pending table mid-wait.
			return nil, ErrClosed
		}
		return reply, nil
	case <-timer.C:
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *MQTTLink) SendFireAndForget(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.Reachable() {
		return ErrUnreachable
	}
	return l.publish(fmt.Sprintf(inboxTopic, l.pairID, l.peerID), false, mqttEnvelope{Payload: payload})
}

// UpdateLatestState publishes the slot as a retained message so the
// broker hands the newest value to the peer whenever it reconnects.
func (l *MQTTLink) UpdateLatestState(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.client == nil {
		return ErrUnreachable
	}
	return l.publish(fmt.Sprintf(stateTopic, l.pairID, l.peerID), true, mqttEnvelope{Payload: payload})
}

func (l *MQTTLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
	l.mu.Unlock()

	if l.client != nil {
		l.client.Disconnect(250)
	}
	return nil
}

func (l *MQTTLink) publish(topic string, retained bool, env mqttEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	token := l.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(replyTimeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrReplyTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (l *MQTTLink) onInbox(_ mqtt.Client, msg mqtt.Message) {
	var env mqttEnvelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		l.logger.Warn("malformed inbox envelope", "error", err)
		return
	}

	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return
	}

	reply := h.OnMessage(env.Payload)
	if reply == nil || env.CorrID == "" {
		return
	}
	if err := l.publish(fmt.Sprintf(replyTopic, l.pairID, l.peerID), false, mqttEnvelope{CorrID: env.CorrID, Payload: reply}); err != nil {
		l.logger.Warn("failed to publish reply", "corr_id", env.CorrID, "error", err)
	}
}

func (l *MQTTLink) onReply(_ mqtt.Client, msg mqtt.Message) {
	var env mqttEnvelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		l.logger.Warn("malformed reply envelope", "error", err)
		return
	}

	l.mu.Lock()
	ch, ok := l.pending[env.CorrID]
	if ok {
		// Delivered under the lock so Close cannot close the channel
		// between lookup and send.
		select {
		case ch <- env.Payload:
		default:
		}
	}
	l.mu.Unlock()
	if !ok {
		l.logger.Debug("reply for unknown correlation id", "corr_id", env.CorrID)
	}
}

func (l *MQTTLink) onState(_ mqtt.Client, msg mqtt.Message) {
	var env mqttEnvelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		l.logger.Warn("malformed state envelope", "error", err)
		return
	}

	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h.OnLatestState(env.Payload)
	}
}

// pahoClient adapts the concrete paho client to MQTTClient.
type pahoClient struct {
	client mqtt.Client
}

func (p *pahoClient) Connect() mqtt.Token      { return p.client.Connect() }
func (p *pahoClient) Disconnect(quiesce uint)  { p.client.Disconnect(quiesce) }
func (p *pahoClient) IsConnected() bool        { return p.client.IsConnected() }
func (p *pahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return p.client.Publish(topic, qos, retained, payload)
}
func (p *pahoClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return p.client.Subscribe(topic, qos, callback)
}
