package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// MQTTSink publishes events to an MQTT broker
type MQTTSink struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTSink connects to the broker. The client reconnects on its own
// after the first connection.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("broker", cfg.BrokerURL).
			Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", cfg.BrokerURL).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTSink{client: client, qos: cfg.QoS}, nil
}

// Name implements Sink
func (m *MQTTSink) Name() string { return "mqtt" }

// Send implements Sink
func (m *MQTTSink) Send(ctx context.Context, topic string, retained bool, payload []byte) error {
	token := m.client.Publish(topic, m.qos, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return errors.New("mqtt publish timeout")
	}
}

// Close implements Sink
func (m *MQTTSink) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	log.Info().Msg("MQTT client disconnected")
}
