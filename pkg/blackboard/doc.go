// Package blackboard provides the shared signal board Warren components use
// to observe each other's state.
//
// # Overview
//
// A signal is the latest value published under a key, together with who
// published it and when. The board implements last-value publish/subscribe:
// publishing overwrites the stored value and fans the new signal out to
// per-key subscribers and to an instance-wide broadcast channel; subscribing
// delivers the current value (if any) before subsequent updates.
//
// Signals are observability surfaces, not coordination primitives. The
// orchestrator publishes graph and node status, agents publish activity
// state, and the CLI watches the broadcast channel; none of them block on a
// signal to make progress.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so
// multiple Warren instances can safely coexist on a single Redis server.
//
// # Redis Schema
//
// Signals:          warren:{instance_name}:signal:{key}
// Signal events:    warren:{instance_name}:signal_events:{key}
// Broadcast events: warren:{instance_name}:broadcast_events
//
// # Design Principles
//
//   - Last-value semantics: a late subscriber sees the current state, not a
//     replay of history
//   - Advisory publisher: the publisher id is recorded but not authorized;
//     any client may write any key
//   - Isolation: instance namespacing prevents cross-instance interference
package blackboard
