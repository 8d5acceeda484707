package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Lifecycle events mirrored to the broker. Log growth notifications are
// too chatty for the bus and stay on the WebSocket.
const (
	eventReady = "backend-ready"
	eventError = "backend-error"
)

// Publish sends payload to topic after validating the topic, QoS and size.
func (p *Publisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// eventMessage is the payload on alproj/backend/<event>.
type eventMessage struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// backendStatus is the retained payload on alproj/backend/status.
type backendStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Emit mirrors a backend lifecycle event. Ready and error events update
// the retained status topic as well; other events are ignored.
func (p *Publisher) Emit(event string, payload any) error {
	var status backendStatus
	switch event {
	case eventReady:
		status.Status = "connected"
	case eventError:
		status.Status = "failed"
		status.Error, _ = payload.(string)
	default:
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	status.Timestamp = now

	msg, err := json.Marshal(eventMessage{Event: event, Payload: payload, Timestamp: now})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}
	state, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding backend status: %w", err)
	}

	p.mu.Lock()
	p.lastState = state
	p.mu.Unlock()

	if err := p.Publish(Topics{}.BackendEvent(event), msg, p.qos(), false); err != nil {
		return err
	}
	return p.Publish(Topics{}.BackendStatus(), state, p.qos(), true)
}
