// Package squirrel provides the Machine Context Protocol (MCP) core for
// the Squirrel platform: a typed message model, a protocol state machine
// with per-type handler dispatch, session state management, and
// checksummed state persistence.
//
// # Architecture
//
// The core is a library, not a transport. Callers feed it messages and
// it validates, routes, and answers; how messages arrive (NATS, HTTP,
// in-process) is the caller's concern.
//
//	┌─────────────────────────────────────┐
//	│           Protocol                  │  Lifecycle state machine,
//	│  (validate, route, dispatch)        │  handler registry
//	└─────────────────────────────────────┘
//	           ↓ dispatches to
//	┌─────────────────────────────────────┐
//	│           Session                   │  Named states, transition
//	│  (manager, tracker, recovery)       │  graph, context tracking
//	└─────────────────────────────────────┘
//	           ↓ persists via
//	┌─────────────────────────────────────┐
//	│           Storage                   │  File or NATS JetStream KV,
//	│  (checksummed envelopes)            │  SHA-256 integrity checks
//	└─────────────────────────────────────┘
//
// # Packages
//
// Core:
//   - message: immutable typed messages with metadata and hashing
//   - protocol: config, pure validator, state machine, handler dispatch
//   - session: state manager, context tracker, persistence, recovery
//
// Infrastructure:
//   - storage: Store interface; filestore and natsstore backends
//   - config: YAML application configuration
//   - metric: Prometheus metrics and registry
//   - errors: classified errors with transient/invalid/fatal classes
//   - pkg/timestamp: canonical unix-millisecond time handling
//   - pkg/retry: exponential backoff with jitter
//
// # Usage
//
// Minimal protocol setup:
//
//	proto := protocol.New(protocol.WithLogger(logger))
//	if err := proto.Initialize(); err != nil {
//	    return err
//	}
//	_ = proto.RegisterHandler(message.Command, handleCommand)
//	if err := proto.Start(ctx); err != nil {
//	    return err
//	}
//	resp, err := proto.HandleMessage(ctx, msg)
//
// Session state with persistence:
//
//	store, _ := filestore.New("data/state")
//	persistence := session.NewStatePersistence(store)
//	st := session.NewState("editor", map[string]any{"file": "main.go"})
//	_ = persistence.SaveState(ctx, st)
//
// The squirreld binary under cmd/squirreld wires these together behind
// a Prometheus /metrics endpoint.
package squirrel
