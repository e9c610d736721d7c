// Package message defines the MCP message envelope for the Squirrel
// platform.
//
// Messages are the fundamental unit of protocol exchange, carrying a
// raw JSON payload with a type discriminant and optional metadata.
//
// # Wire Format
//
// The canonical JSON wire shape uses "message_type" as the discriminant
// field:
//
//	{
//	  "id": "3e9f...",
//	  "message_type": "command",
//	  "payload": { "name": "status", "args": {} },
//	  "metadata": { "timestamp": 1672574400000, "source": "cli" },
//	  "error": "only present on error messages"
//	}
//
// Earlier drafts of the protocol disagreed on the discriminant field
// name ("type" vs "message_type") and on timestamp units; this package
// is the single canonical shape. Timestamps are unix milliseconds,
// normalized through pkg/timestamp.
//
// # Design principles
//
//   - Envelope-only: messages contain data, no routing or storage logic
//   - Immutable: all fields are fixed at construction
//   - Content-addressable: Hash enables deduplication
//
// Protocol admission rules (size bounds, timestamp freshness, payload
// shape) are enforced by the protocol package validator, not here.
package message
