package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Warren instances to safely coexist on a single Redis
// server.
//
// Key pattern: warren:{instance_name}:signal:{key}
// Channel pattern: warren:{instance_name}:{event_type}_events

// SignalKey returns the Redis key holding a signal's hash.
// Pattern: warren:{instance_name}:signal:{key}
func SignalKey(instanceName, signalKey string) string {
	return fmt.Sprintf("warren:%s:signal:%s", instanceName, signalKey)
}

// SignalKeyPattern returns the SCAN match pattern for signals whose keys
// start with prefix. An empty prefix matches every signal in the instance.
func SignalKeyPattern(instanceName, prefix string) string {
	return fmt.Sprintf("warren:%s:signal:%s*", instanceName, prefix)
}

// signalKeyPrefix returns the portion of a Redis signal key preceding the
// signal's own key, used to strip the namespace when listing.
func signalKeyPrefix(instanceName string) string {
	return fmt.Sprintf("warren:%s:signal:", instanceName)
}

// SignalEventsChannel returns the Pub/Sub channel for updates to one key.
// Pattern: warren:{instance_name}:signal_events:{key}
func SignalEventsChannel(instanceName, signalKey string) string {
	return fmt.Sprintf("warren:%s:signal_events:%s", instanceName, signalKey)
}

// BroadcastChannel returns the instance-wide Pub/Sub channel that receives
// every published signal. The CLI's watch command subscribes here.
// Pattern: warren:{instance_name}:broadcast_events
func BroadcastChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:broadcast_events", instanceName)
}
