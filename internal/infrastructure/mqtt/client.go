package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
)

// Logger defines the logging interface for the mqtt package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// broker is the part of pahomqtt.Client the publisher uses.
type broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes host and backend status to the broker.
// It is safe for concurrent use.
type Publisher struct {
	client broker
	cfg    config.MQTTConfig

	mu        sync.RWMutex
	connected bool
	lastState []byte // retained backend status, re-published on reconnect

	logger Logger
}

// Connect dials the broker and publishes the host's online status.
// It returns ErrDisabled when MQTT is not enabled.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	p := &Publisher{cfg: cfg, logger: noopLogger{}}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { p.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { p.handleDisconnect(err) })

	client := pahomqtt.NewClient(opts)
	p.client = client

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark connected now so
	// publishes right after Connect are not rejected.
	p.setConnected(true)
	return p, nil
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

func (p *Publisher) log() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logger
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// handleConnect runs on every (re)connect: it announces the host and
// restores the retained backend status.
func (p *Publisher) handleConnect() {
	p.setConnected(true)

	p.client.Publish(Topics{}.HostStatus(), p.qos(), true,
		hostStatusPayload("online", p.cfg.Broker.ClientID, ""))

	p.mu.RLock()
	state := p.lastState
	p.mu.RUnlock()
	if state != nil {
		p.client.Publish(Topics{}.BackendStatus(), p.qos(), true, state)
	}
	p.log().Info("mqtt connected")
}

func (p *Publisher) handleDisconnect(err error) {
	p.setConnected(false)
	p.log().Warn("mqtt connection lost", "error", err)
}

// IsConnected reports the last known connection state.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client.IsConnected()
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes a graceful offline status and disconnects.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	if p.IsConnected() {
		token := p.client.Publish(Topics{}.HostStatus(), p.qos(), true,
			hostStatusPayload("offline", p.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	p.setConnected(false)
	return nil
}

func (p *Publisher) qos() byte {
	return byte(p.cfg.QoS) //nolint:gosec // validated to 0..2 by config
}
