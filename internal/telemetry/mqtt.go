// Package telemetry mirrors crawlspace events to external systems: MQTT for
// fleet dashboards and Redis for cross-instance presence.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/util"
)

// Topic suffixes appended to the configured prefix.
const (
	TopicPlayers = "players"
	TopicStatus  = "status"
	TopicAdmin   = "admin"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler publishes player and heartbeat events to an MQTT broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, instance string, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"local_ip":  sysInfo.LocalIP,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
			"instance":  instance,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("crawlspace-%s-%s", sysInfo.Hostname, instance))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := mqttTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client
	return handler, nil
}

func mqttTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the MQTT broker, subscribes to events and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		// Connect retry keeps trying in the background.
		h.logger.Warn().Err(token.Error()).Msg("MQTT broker not reachable yet")
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.client.Disconnect(1000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeMany([]events.EventType{
		events.EventPlayerJoined,
		events.EventPlayerLeft,
		events.EventLoginRejected,
	}, "mqtt", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventHeartbeat, "mqtt", h.onHeartbeat)
	h.eventBus.Subscribe(events.EventShutdown, "mqtt", h.onShutdown)
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic. Messages are dropped while
// the broker is unreachable.
func (h *MQTTHandler) publish(suffix string, payload interface{}) error {
	if !h.pub.IsConnected() {
		return nil
	}
	topic := h.topic(suffix)

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message for %s: %w", topic, err)
	}

	token := h.pub.Publish(topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish to %s timed out", topic)
	}
	return token.Error()
}

func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onPlayerEvent(ctx context.Context, event events.Event) error {
	return h.publish(TopicPlayers, map[string]interface{}{
		"event":   event.Type,
		"payload": event.Payload,
	})
}

func (h *MQTTHandler) onHeartbeat(ctx context.Context, event events.Event) error {
	return h.publish(TopicStatus, event.Payload)
}

func (h *MQTTHandler) onShutdown(ctx context.Context, event events.Event) error {
	return h.publish(TopicAdmin, map[string]interface{}{
		"event":   event.Type,
		"payload": event.Payload,
	})
}
