package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
)

// fakeToken completes immediately with err.
type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker records publishes.
type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	err          error
	messages     []published
	disconnected bool
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	}
	b.messages = append(b.messages, published{topic, qos, retained, body})
	return fakeToken{err: b.err}
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	b.disconnected = true
	b.connected = false
	b.mu.Unlock()
}

func newTestPublisher() (*Publisher, *fakeBroker) {
	b := &fakeBroker{connected: true}
	p := &Publisher{
		client:    b,
		cfg:       config.MQTTConfig{Enabled: true, QoS: 1, Broker: config.MQTTBrokerConfig{ClientID: "alproj-test"}},
		connected: true,
		logger:    noopLogger{},
	}
	return p, b
}

func TestConnect_Disabled(t *testing.T) {
	p, err := Connect(config.MQTTConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if p != nil {
		t.Error("Connect() returned a publisher while disabled")
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Topics{}.HostStatus(), "alproj/host/status"},
		{Topics{}.BackendStatus(), "alproj/backend/status"},
		{Topics{}.BackendEvent("backend-ready"), "alproj/backend/ready"},
		{Topics{}.BackendEvent("backend-error"), "alproj/backend/error"},
		{Topics{}.BackendEvent("custom"), "alproj/backend/custom"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPublish_Validation(t *testing.T) {
	p, b := newTestPublisher()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"ok", "a/b", []byte("x"), 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(b.messages) != 1 {
		t.Errorf("broker got %d messages, want 1", len(b.messages))
	}
}

func TestPublish_NotConnected(t *testing.T) {
	p, b := newTestPublisher()
	b.connected = false

	if err := p.Publish("a/b", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_BrokerError(t *testing.T) {
	p, b := newTestPublisher()
	b.err = errors.New("not authorized")

	if err := p.Publish("a/b", nil, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestEmit(t *testing.T) {
	p, b := newTestPublisher()

	if err := p.Emit("backend-error", "Backend failed to start within 180 seconds"); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if len(b.messages) != 2 {
		t.Fatalf("broker got %d messages, want 2", len(b.messages))
	}

	event := b.messages[0]
	if event.topic != "alproj/backend/error" || event.retained {
		t.Errorf("event message = %s retained=%v", event.topic, event.retained)
	}
	var msg eventMessage
	if err := json.Unmarshal(event.payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != "backend-error" || msg.Payload != "Backend failed to start within 180 seconds" {
		t.Errorf("event payload = %+v", msg)
	}

	state := b.messages[1]
	if state.topic != "alproj/backend/status" || !state.retained || state.qos != 1 {
		t.Errorf("status message = %s retained=%v qos=%d", state.topic, state.retained, state.qos)
	}
	if !strings.Contains(string(state.payload), `"status":"failed"`) {
		t.Errorf("status payload = %s", state.payload)
	}
}

func TestEmit_IgnoresLogUpdates(t *testing.T) {
	p, b := newTestPublisher()
	if err := p.Emit("backend-log-updated", map[string]int64{"cursor": 10}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if len(b.messages) != 0 {
		t.Errorf("broker got %d messages, want none", len(b.messages))
	}
}

func TestReconnect_RestoresStatus(t *testing.T) {
	p, b := newTestPublisher()
	if err := p.Emit("backend-ready", true); err != nil {
		t.Fatal(err)
	}
	b.messages = nil

	p.handleDisconnect(errors.New("EOF"))
	if p.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	p.handleConnect()

	if len(b.messages) != 2 {
		t.Fatalf("broker got %d messages on reconnect, want 2", len(b.messages))
	}
	if b.messages[0].topic != "alproj/host/status" || !strings.Contains(string(b.messages[0].payload), `"online"`) {
		t.Errorf("first message = %s %s", b.messages[0].topic, b.messages[0].payload)
	}
	if b.messages[1].topic != "alproj/backend/status" || !strings.Contains(string(b.messages[1].payload), `"connected"`) {
		t.Errorf("second message = %s %s", b.messages[1].topic, b.messages[1].payload)
	}
}

func TestClose(t *testing.T) {
	p, b := newTestPublisher()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !b.disconnected {
		t.Error("broker not disconnected")
	}
	if len(b.messages) != 1 || !strings.Contains(string(b.messages[0].payload), "graceful_shutdown") {
		t.Errorf("messages = %+v, want graceful offline status", b.messages)
	}

	var nilPub *Publisher
	if err := nilPub.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "alproj-host"},
		Auth:      config.MQTTAuthConfig{Username: "host", Password: "secret"},
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
	}
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "alproj-host" || opts.Username != "host" {
		t.Errorf("ClientID = %q Username = %q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.WillEnabled || opts.WillTopic != "alproj/host/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
}
