package message

// MessageType identifies the kind of traffic a message carries. The
// canonical set is Command, Response, Event, Request and Error; Unknown
// is an explicit placeholder that the protocol validator rejects.
type MessageType string

const (
	// Command is an imperative message directed at a command handler.
	Command MessageType = "command"
	// Response answers a previously issued Command or Request.
	Response MessageType = "response"
	// Event is a fire-and-forget notification of something that happened.
	Event MessageType = "event"
	// Request asks a peer for data without side effects.
	Request MessageType = "request"
	// Error reports a failure, carrying error text in the envelope.
	Error MessageType = "error"
	// Unknown is the placeholder for unrecognized types. Messages of
	// this type never pass validation.
	Unknown MessageType = "unknown"
)

// knownTypes is the set of valid, dispatchable message types.
var knownTypes = map[MessageType]struct{}{
	Command:  {},
	Response: {},
	Event:    {},
	Request:  {},
	Error:    {},
}

// String returns the string representation of the message type.
func (t MessageType) String() string {
	return string(t)
}

// IsValid reports whether the type is a recognized, non-placeholder variant.
func (t MessageType) IsValid() bool {
	_, ok := knownTypes[t]
	return ok
}

// RequiresObjectPayload reports whether the protocol demands an
// object-shaped JSON payload for this type. Command and Request carry
// structured arguments; array and scalar payloads are rejected for them.
func (t MessageType) RequiresObjectPayload() bool {
	return t == Command || t == Request
}
