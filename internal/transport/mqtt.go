package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
)

const mqttPublishWait = 2 * time.Second

// MQTTLink carries envelopes over an MQTT broker on
// gesture/motion/<pairing> with QoS 0.
type MQTTLink struct {
	client mqtt.Client
	topic  string
	log    *slog.Logger

	mu         sync.Mutex
	receiver   func([]byte)
	observer   func(LinkEvent)
	connecting bool
}

func NewMQTTLink(cfg config.MQTTConfig, pairingID, nodeID string, log *slog.Logger) *MQTTLink {
	return newMQTTLink(cfg, pairingID, nodeID, log, mqtt.NewClient)
}

func newMQTTLink(cfg config.MQTTConfig, pairingID, nodeID string, log *slog.Logger, newClient func(*mqtt.ClientOptions) mqtt.Client) *MQTTLink {
	l := &MQTTLink{
		topic: protocol.MotionTopic(pairingID),
		log:   log.With(slog.String("component", "mqtt-link")),
	}

	clientID := cfg.ClientID
	if nodeID != "" {
		clientID = fmt.Sprintf("%s-%s", cfg.ClientID, nodeID)
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = l.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		l.log.Warn("mqtt connection lost", slogError(err))
		l.emit(LinkEvent{Kind: Deactivated, Err: err})
	}

	l.client = newClient(opts)
	return l
}

// onConnect runs on every (re)connect. The subscription is re-established
// because the session is clean.
func (l *MQTTLink) onConnect(c mqtt.Client) {
	l.mu.Lock()
	receive := l.receiver != nil
	l.connecting = false
	l.mu.Unlock()

	if receive {
		token := c.Subscribe(l.topic, 0, l.handleMsg)
		if token.WaitTimeout(mqttPublishWait) && token.Error() != nil {
			l.log.Warn("mqtt subscribe failed", slogError(token.Error()), slog.String("topic", l.topic))
			l.emit(LinkEvent{Kind: Deactivated, Err: token.Error()})
			return
		}
	}
	l.log.Info("mqtt connected", slog.String("topic", l.topic))
	l.emit(LinkEvent{Kind: Activated})
}

func (l *MQTTLink) handleMsg(_ mqtt.Client, msg mqtt.Message) {
	l.mu.Lock()
	fn := l.receiver
	l.mu.Unlock()
	if fn != nil {
		fn(msg.Payload())
	}
}

func (l *MQTTLink) emit(evt LinkEvent) {
	l.mu.Lock()
	fn := l.observer
	l.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

// Activate starts the connection. Completion is reported through the
// Activated event from the OnConnect handler.
func (l *MQTTLink) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.client.IsConnectionOpen() {
		l.emit(LinkEvent{Kind: Activated})
		return nil
	}
	l.mu.Lock()
	if l.connecting {
		l.mu.Unlock()
		return errors.New("mqtt connect already in progress")
	}
	l.connecting = true
	l.mu.Unlock()

	token := l.client.Connect()
	select {
	case <-ctx.Done():
		// the client keeps retrying in the background
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		l.mu.Lock()
		l.connecting = false
		l.mu.Unlock()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (l *MQTTLink) IsReachable() bool {
	return l.client.IsConnectionOpen()
}

func (l *MQTTLink) Send(payload []byte, onError func(error)) {
	token := l.client.Publish(l.topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(mqttPublishWait) {
			report(onError, errors.New("mqtt publish timed out"))
			return
		}
		if err := token.Error(); err != nil {
			report(onError, err)
		}
	}()
}

func (l *MQTTLink) SetReceiver(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = fn
}

func (l *MQTTLink) SetStateObserver(fn func(LinkEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = fn
}

func (l *MQTTLink) Close() error {
	l.mu.Lock()
	l.observer = nil
	l.mu.Unlock()
	if l.client.IsConnected() {
		l.client.Disconnect(250)
	}
	return nil
}
