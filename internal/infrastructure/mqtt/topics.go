package mqtt

import "strings"

// TopicPrefix is the root of every topic the host publishes.
const TopicPrefix = "alproj"

// Topics builds the host's MQTT topic names.
type Topics struct{}

// HostStatus carries the host's own online/offline state and its Last Will.
//
// Example: alproj/host/status
func (Topics) HostStatus() string {
	return TopicPrefix + "/host/status"
}

// BackendStatus is the retained backend connection state.
//
// Example: alproj/backend/status
func (Topics) BackendStatus() string {
	return TopicPrefix + "/backend/status"
}

// BackendEvent maps a lifecycle event name to its topic. The "backend-"
// prefix of the event name is dropped.
//
// Example: backend-ready -> alproj/backend/ready
func (Topics) BackendEvent(event string) string {
	return TopicPrefix + "/backend/" + strings.TrimPrefix(event, "backend-")
}
