// Package protocol implements the MCP protocol core: configuration,
// message validation, and the protocol state machine with per-type
// handler dispatch.
//
// # Lifecycle
//
// A Protocol instance moves through a fixed set of states:
//
//	uninitialized -> initialized -> ready -> shutting_down
//	                                      \-> error (absorbing)
//
// Initialize installs an immutable Config; calling it twice fails with
// ErrAlreadyInitialized and leaves the instance untouched. Start makes
// the instance ready for traffic. HandleMessage requires ready;
// RouteMessage only requires initialized; ValidateMessage works in any
// state.
//
// # Validation
//
// ValidateMessage is a pure admission gate applied before any handler
// sees a message. It enforces, in order: known message type, serialized
// size bound, timestamp freshness (not in the future, not older than
// the configured staleness bound), and object-shaped payloads for
// Command/Request traffic, optionally checked against a per-type JSON
// Schema.
//
// # Handlers
//
// Handlers are registered per message type, at most one per type.
// Registration and dispatch lookup are serialized by the handler-table
// lock: a handler is either fully visible or fully absent to any
// concurrent HandleMessage call.
package protocol
