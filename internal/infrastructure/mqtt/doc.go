// Package mqtt mirrors backend lifecycle events to an MQTT broker.
//
// It is optional and publish-only. When enabled, the host connects with a
// Last Will on alproj/host/status so other local tools can tell a crashed
// host from a stopped one, publishes each ready or error event on
// alproj/backend/<event>, and keeps the retained alproj/backend/status
// topic current.
//
//	pub, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // MQTT is off; nothing to mirror.
//	}
//	defer pub.Close()
//
// Publisher implements the sidecar Emitter interface.
package mqtt
