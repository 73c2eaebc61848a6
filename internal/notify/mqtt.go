package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/retry"
)

// MQTT publishes alerts to a broker topic. The connection is opened on first
// delivery so a broker that is down at startup only fails this channel.
type MQTT struct {
	name    string
	topic   string
	qos     byte
	timeout time.Duration

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTT(cfg config.ChannelConfig) *MQTT {
	opts := mqtt.NewClientOptions()
	for _, b := range cfg.Brokers {
		opts.AddBroker(b)
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "flightguard-" + cfg.Name
	}
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetAutoReconnect(true)
	return &MQTT{
		name:    cfg.Name,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		client:  mqtt.NewClient(opts),
	}
}

func (m *MQTT) Name() string { return m.name }

func (m *MQTT) Deliver(ctx context.Context, ev model.AlertEvent) error {
	payload, err := encode(ev)
	if err != nil {
		return retry.Permanent(err)
	}
	if err := m.connect(ctx); err != nil {
		return err
	}
	token := m.client.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(m.wait(ctx)) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (m *MQTT) connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client.IsConnected() {
		return nil
	}
	token := m.client.Connect()
	if !token.WaitTimeout(m.wait(ctx)) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// wait bounds a token wait by the channel timeout and the context deadline.
func (m *MQTT) wait(ctx context.Context) time.Duration {
	d := m.timeout
	if d <= 0 {
		d = 10 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	return d
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
