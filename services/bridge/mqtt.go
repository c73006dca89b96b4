// services/bridge/mqtt.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type mqttTransport struct {
	cfg MQTTConfig
	log *slog.Logger
}

func newMQTTTransport(cfg TransportConfig, logger *slog.Logger) (Transport, error) {
	if cfg.MQTT == nil {
		return nil, errors.New("mqtt transport requires mqtt config")
	}
	m := *cfg.MQTT
	if m.Broker == "" {
		return nil, errors.New("mqtt transport requires a broker")
	}
	if m.Port == 0 {
		m.Port = 1883
	}
	if m.ClientID == "" {
		m.ClientID = "sensorcode"
	}
	if m.KeepAliveS <= 0 {
		m.KeepAliveS = 30
	}
	if m.PublishTimeMS <= 0 {
		m.PublishTimeMS = 5000
	}
	return &mqttTransport{cfg: m, log: logger}, nil
}

func (t *mqttTransport) String() string {
	return fmt.Sprintf("mqtt://%s:%d", t.cfg.Broker, t.cfg.Port)
}

// Open connects once. Reconnection is left to the bridge supervisor so that
// every outage is reported on bridge/state.
func (t *mqttTransport) Open(ctx context.Context) (Link, error) {
	l := &mqttLink{
		done:    make(chan error, 1),
		timeout: time.Duration(t.cfg.PublishTimeMS) * time.Millisecond,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", t.cfg.Broker, t.cfg.Port))
	opts.SetClientID(t.cfg.ClientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(time.Duration(t.cfg.KeepAliveS) * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.log.Warn("mqtt connection lost", "broker", t.cfg.Broker, "error", err)
		select {
		case l.done <- err:
		default:
		}
	})

	l.client = mqtt.NewClient(opts)
	token := l.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		if ctx.Err() != nil {
			l.client.Disconnect(0)
			return nil, ctx.Err()
		}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	t.log.Info("mqtt connected", "broker", t.cfg.Broker, "port", t.cfg.Port, "client_id", t.cfg.ClientID)
	return l, nil
}

type mqttLink struct {
	client  mqtt.Client
	done    chan error
	timeout time.Duration
}

func (l *mqttLink) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := l.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(l.timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (l *mqttLink) Done() <-chan error { return l.done }

func (l *mqttLink) Close() { l.client.Disconnect(250) }
