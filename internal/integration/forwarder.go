package integration

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/bridge"
	"github.com/freebox-home/freebox-bridge/internal/config"
	"github.com/freebox-home/freebox-bridge/internal/models"
)

const mqttPublishTimeout = 5 * time.Second

// Forwarder relays every published snapshot to the configured external
// systems. NATS subjects are <prefix>.<host>.<category>; MQTT topics are
// <prefix>/<host>/<category>. Forwarding is best effort: a broker outage
// never stalls the poll loop.
type Forwarder struct {
	bus  *bridge.Bus
	host string

	nc         *nats.Conn
	natsPrefix string

	mqttClient mqtt.Client
	mqttCfg    config.MQTTConfig
}

// NewForwarder creates a forwarder. nc may be nil when NATS is disabled.
func NewForwarder(bus *bridge.Bus, host string, nc *nats.Conn, natsPrefix string, mqttCfg config.MQTTConfig) *Forwarder {
	return &Forwarder{
		bus:        bus,
		host:       host,
		nc:         nc,
		natsPrefix: natsPrefix,
		mqttCfg:    mqttCfg,
	}
}

// Start relays snapshots until the context is cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	if f.nc == nil && !f.mqttCfg.Enabled {
		return fmt.Errorf("no forwarding target configured")
	}

	if f.mqttCfg.Enabled {
		client, err := f.connectMQTT()
		if err != nil {
			return err
		}
		f.mqttClient = client
	}

	ch, cancel := f.bus.SubscribeAll()
	defer cancel()

	log.Info().Str("host", f.host).Msg("Integration forwarder started")

	for {
		select {
		case <-ctx.Done():
			if f.mqttClient != nil && f.mqttClient.IsConnected() {
				f.mqttClient.Disconnect(250)
			}
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			f.forward(snap)
		}
	}
}

func (f *Forwarder) forward(snap models.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	if f.nc != nil {
		subject := fmt.Sprintf("%s.%s.%s", f.natsPrefix, f.host, snap.Category)
		if err := f.nc.Publish(subject, data); err != nil {
			log.Error().
				Err(err).
				Str("subject", subject).
				Msg("Failed to publish snapshot to NATS")
		}
	}

	if f.mqttClient != nil && f.mqttClient.IsConnected() {
		topic := fmt.Sprintf("%s/%s/%s", f.mqttCfg.TopicPrefix, f.host, snap.Category)
		token := f.mqttClient.Publish(topic, f.mqttCfg.QoS, f.mqttCfg.Retain, data)
		if token.WaitTimeout(mqttPublishTimeout) {
			if err := token.Error(); err != nil {
				log.Error().
					Err(err).
					Str("topic", topic).
					Msg("Failed to publish snapshot to MQTT")
			}
		} else {
			log.Error().
				Str("topic", topic).
				Msg("MQTT publish timeout")
		}
	}
}

func (f *Forwarder) connectMQTT() (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.mqttCfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("freebox-bridge-%s", f.host))

	if f.mqttCfg.Username != "" {
		opts.SetUsername(f.mqttCfg.Username)
		opts.SetPassword(f.mqttCfg.Password)
	}

	if f.mqttCfg.TLS {
		opts.SetTLSConfig(&tls.Config{})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", f.mqttCfg.BrokerURL).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connect MQTT broker: %w", token.Error())
	}
	return client, nil
}
