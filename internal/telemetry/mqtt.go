// Package telemetry publishes RCON session activity to an MQTT broker
// for fleet dashboards: connects, commands, disconnects, and requests
// that remain unreplied.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/util"
)

// MQTT topics published by rcond.
const (
	TopicDaemonStatus = "rcond/status"
	TopicClients      = "rcond/clients"
	TopicCommands     = "rcond/commands"
	TopicUnreplied    = "rcond/unreplied"
	TopicAuth         = "rcond/auth"
)

// MQTTHandler manages the MQTT connection and publishes session events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message.
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. Returns an error
// when MQTT is disabled in config.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rcond-%s", sysInfo.Hostname))
	}

	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker, subscribes to bus events, and
// blocks until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT

	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.publish(TopicDaemonStatus, map[string]interface{}{"event": "shutdown"})
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventClientConnected, "mqtt.clientConnected", h.onClientConnected)
	h.eventBus.Subscribe(events.EventClientClosed, "mqtt.clientClosed", h.onClientClosed)
	h.eventBus.Subscribe(events.EventClientRequest, "mqtt.clientRequest", h.onClientRequest)
	h.eventBus.Subscribe(events.EventRequestUnreplied, "mqtt.unreplied", h.onUnreplied)
	h.eventBus.Subscribe(events.EventAuthFailed, "mqtt.authFailed", h.onAuthFailed)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) onClientConnected(ctx context.Context, event events.Event) error {
	h.publish(TopicClients, map[string]interface{}{
		"event":   "connected",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onClientClosed(ctx context.Context, event events.Event) error {
	h.publish(TopicClients, map[string]interface{}{
		"event":   "closed",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onClientRequest(ctx context.Context, event events.Event) error {
	h.publish(TopicCommands, event.Payload)
	return nil
}

func (h *MQTTHandler) onUnreplied(ctx context.Context, event events.Event) error {
	h.publish(TopicUnreplied, event.Payload)
	return nil
}

func (h *MQTTHandler) onAuthFailed(ctx context.Context, event events.Event) error {
	h.publish(TopicAuth, event.Payload)
	return nil
}
