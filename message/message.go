package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/pkg/timestamp"
)

// Message is the unit of MCP protocol exchange. It combines a typed
// payload with optional metadata to form a complete envelope ready for
// transmission between Squirrel components.
//
// Message is immutable after creation - all fields are set during
// construction and cannot be modified. This keeps envelope integrity
// intact through the validation and dispatch pipeline.
//
// Construction uses functional options:
//
//	// Command with a JSON object payload
//	msg := message.New(message.Command, payload, message.WithSource("cli"))
//
//	// Error message correlated to a request
//	msg := message.New(message.Error, nil,
//	    message.WithID(req.ID()),
//	    message.WithError("command registry unavailable"))
type Message struct {
	id       string
	msgType  MessageType
	payload  json.RawMessage
	metadata *Metadata
	errText  string
}

// Option is a functional option for configuring Message construction.
type Option func(*Message)

// WithID overrides the generated message ID. Used when correlating a
// Response or Error with the originating Command/Request.
func WithID(id string) Option {
	return func(m *Message) {
		m.id = id
	}
}

// WithMetadata attaches a complete metadata record to the message.
func WithMetadata(meta *Metadata) Option {
	return func(m *Message) {
		m.metadata = meta
	}
}

// WithTimestamp stamps the message metadata with the given unix
// millisecond timestamp, creating the metadata record if absent.
func WithTimestamp(ms int64) Option {
	return func(m *Message) {
		if m.metadata == nil {
			m.metadata = &Metadata{}
		}
		m.metadata.Timestamp = ms
	}
}

// WithSource records the originating component in the metadata and
// stamps the current time if no timestamp has been set yet.
func WithSource(source string) Option {
	return func(m *Message) {
		if m.metadata == nil {
			m.metadata = &Metadata{}
		}
		m.metadata.Source = source
		if m.metadata.Timestamp == 0 {
			m.metadata.Timestamp = timestamp.Now()
		}
	}
}

// WithDestination records the target component in the metadata.
func WithDestination(destination string) Option {
	return func(m *Message) {
		if m.metadata == nil {
			m.metadata = &Metadata{}
		}
		m.metadata.Destination = destination
	}
}

// WithError sets the human-readable error text carried by Error messages.
func WithError(text string) Option {
	return func(m *Message) {
		m.errText = text
	}
}

// New creates a Message with a generated UUID and the given type and
// payload. The payload may be nil for Event/Error traffic.
func New(msgType MessageType, payload json.RawMessage, opts ...Option) *Message {
	m := &Message{
		id:      uuid.New().String(),
		msgType: msgType,
		payload: payload,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the unique message identifier.
func (m *Message) ID() string {
	return m.id
}

// MessageType returns the message type discriminant.
func (m *Message) MessageType() MessageType {
	return m.msgType
}

// Payload returns the raw JSON payload. May be nil.
func (m *Message) Payload() json.RawMessage {
	return m.payload
}

// Metadata returns a copy of the message metadata, or nil if absent.
// Returning a copy keeps the message immutable.
func (m *Message) Metadata() *Metadata {
	if m.metadata == nil {
		return nil
	}
	meta := *m.metadata
	return &meta
}

// ErrorText returns the error text carried by Error messages.
func (m *Message) ErrorText() string {
	return m.errText
}

// Hash returns a SHA256 hash of the message content for deduplication.
// The hash covers the message type and payload data.
func (m *Message) Hash() string {
	h := sha256.New()
	h.Write([]byte(m.msgType.String()))
	if len(m.payload) > 0 {
		h.Write(m.payload)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate performs basic envelope validation: the ID must be non-empty
// and the type must be a recognized variant. Protocol-level admission
// rules (size, freshness, payload shape) live in the protocol validator.
func (m *Message) Validate() error {
	if m.id == "" {
		return errors.WrapInvalid(errors.ErrInvalidFormat, "Message", "Validate",
			"message id must not be empty")
	}
	if !m.msgType.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidFormat, "Message", "Validate",
			"unknown message type: "+m.msgType.String())
	}
	return nil
}

// wireFormat is the canonical JSON wire shape. The discriminant field
// is "message_type" (some historical drafts used "type").
type wireFormat struct {
	ID          string          `json:"id"`
	MessageType MessageType     `json:"message_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler for Message.
func (m *Message) MarshalJSON() ([]byte, error) {
	wire := wireFormat{
		ID:          m.id,
		MessageType: m.msgType,
		Payload:     m.payload,
		Metadata:    m.metadata,
		Error:       m.errText,
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler for Message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Message", "UnmarshalJSON", "wire format decode")
	}

	m.id = wire.ID
	m.msgType = wire.MessageType
	m.payload = wire.Payload
	m.metadata = wire.Metadata
	m.errText = wire.Error
	return nil
}
