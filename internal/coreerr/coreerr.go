// Package coreerr defines the distinguishable error kinds that cross
// subsystem boundaries in the platform core. Each kind wraps a cause and
// is checked with errors.As, never by string comparison.
package coreerr

import "fmt"

// TransientAdapter marks a recoverable adapter-transport failure
// (disconnect, timeout) that should be retried with backoff and never
// surfaced to end users.
type TransientAdapter struct {
	Platform string
	Err      error
}

func (e *TransientAdapter) Error() string {
	return fmt.Sprintf("transient adapter failure (platform=%s): %v", e.Platform, e.Err)
}
func (e *TransientAdapter) Unwrap() error { return e.Err }

// BufferFull marks a bounded inbound queue rejecting an envelope.
type BufferFull struct {
	Capacity int
}

func (e *BufferFull) Error() string {
	return fmt.Sprintf("inbound buffer full (capacity=%d)", e.Capacity)
}

// SkipMessage is a sentinel a before-hook returns to short-circuit
// routing for one envelope without treating it as a fault.
type SkipMessage struct {
	Reason string
}

func (e *SkipMessage) Error() string { return "skip message: " + e.Reason }

// HandlerFault wraps an unexpected panic/error from a route, event, or
// scheduler callback. It never propagates past the runtime boundary.
type HandlerFault struct {
	Component string
	Err       error
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("handler fault in %s: %v", e.Component, e.Err)
}
func (e *HandlerFault) Unwrap() error { return e.Err }

// ConsolidationFault marks an LLM or graph-store failure during a
// long-term memory consolidation batch. The batch is rolled back.
type ConsolidationFault struct {
	BatchID string
	Err     error
}

func (e *ConsolidationFault) Error() string {
	return fmt.Sprintf("consolidation batch %s failed: %v", e.BatchID, e.Err)
}
func (e *ConsolidationFault) Unwrap() error { return e.Err }

// PluginLoadFault marks a plugin that failed to load or enable: a
// missing required dependency, a schema violation, or a lifecycle panic.
type PluginLoadFault struct {
	Plugin string
	Err    error
}

func (e *PluginLoadFault) Error() string {
	return fmt.Sprintf("plugin %s failed to load: %v", e.Plugin, e.Err)
}
func (e *PluginLoadFault) Unwrap() error { return e.Err }

// PermissionDenied marks a command or tool invocation without the
// required permission node.
type PermissionDenied struct {
	Node   string
	UserID string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("user %s lacks permission node %s", e.UserID, e.Node)
}

// BadEnvelope marks malformed JSON, missing required fields, or an
// unsupported schema version. The envelope is dropped.
type BadEnvelope struct {
	Reason string
}

func (e *BadEnvelope) Error() string { return "bad envelope: " + e.Reason }

// AdapterTimeout marks an outbound call whose matching echo never
// arrived within the configured deadline.
type AdapterTimeout struct {
	Echo string
}

func (e *AdapterTimeout) Error() string { return "adapter timeout waiting for echo " + e.Echo }

// NoAdapterForPlatform marks an outbound send with no registered sink.
type NoAdapterForPlatform struct {
	Platform string
}

func (e *NoAdapterForPlatform) Error() string { return "no adapter registered for platform " + e.Platform }

// DuplicateComponent marks a second registration under the same
// (kind, name) pair in the component registry.
type DuplicateComponent struct {
	Kind string
	Name string
}

func (e *DuplicateComponent) Error() string {
	return fmt.Sprintf("duplicate component %s/%s", e.Kind, e.Name)
}
