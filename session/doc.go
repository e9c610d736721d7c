// Package session manages named, versioned state for MCP sessions.
//
// Four cooperating pieces:
//
//   - StateManager holds named states and a validated transition graph
//     between them, with an append-only transition history.
//   - ContextTracker tracks a single versioned context state with a
//     bounded snapshot history, subscriber notification and rollback.
//   - StatePersistence saves and loads states through a storage.Store
//     backend, guarding every load with a SHA-256 checksum.
//   - StateRecovery captures recovery points over persisted states and
//     restores them on demand.
package session
