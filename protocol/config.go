package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/message"
)

// Version identifies the protocol version negotiated at initialization.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// String returns the dotted semver representation.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion parses a dotted semver string like "1.0.0".
func ParseVersion(s string) (Version, error) {
	var v Version
	if _, err := fmt.Sscanf(s, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch); err != nil {
		return Version{}, errors.WrapInvalid(errors.ErrInvalidConfig, "protocol", "ParseVersion",
			fmt.Sprintf("version %q is not MAJOR.MINOR.PATCH", s))
	}
	if v.Major < 0 || v.Minor < 0 || v.Patch < 0 {
		return Version{}, errors.WrapInvalid(errors.ErrInvalidConfig, "protocol", "ParseVersion",
			fmt.Sprintf("version %q has negative components", s))
	}
	return v, nil
}

// Config is the immutable configuration attached to a protocol
// instance. It is created once at startup and only replaced wholesale
// on re-initialization, never mutated in place.
type Config struct {
	// Version is the protocol version this instance speaks.
	Version Version

	// MaxMessageSize bounds the serialized size of an admissible
	// message, in bytes.
	MaxMessageSize int

	// Timeout is the staleness bound for message timestamps: messages
	// older than this are rejected by the validator.
	Timeout time.Duration

	// RetryCount is the number of delivery retries collaborators may
	// attempt. The core does not retry by itself.
	RetryCount int

	// payloadSchemas holds compiled per-message-type payload schemas.
	// Optional; when present for a type, object payloads are validated
	// against the schema after the shape check.
	payloadSchemas map[message.MessageType]*gojsonschema.Schema
}

// configWire is the serialized form of Config. The timeout travels as
// integer milliseconds.
type configWire struct {
	Version        Version `json:"version"`
	MaxMessageSize int     `json:"max_message_size"`
	TimeoutMs      int64   `json:"timeout_ms"`
	RetryCount     int     `json:"retry_count"`
}

// MarshalJSON implements json.Marshaler.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configWire{
		Version:        c.Version,
		MaxMessageSize: c.MaxMessageSize,
		TimeoutMs:      c.Timeout.Milliseconds(),
		RetryCount:     c.RetryCount,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Payload schemas do not
// travel on the wire.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w configWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Version = w.Version
	c.MaxMessageSize = w.MaxMessageSize
	c.Timeout = time.Duration(w.TimeoutMs) * time.Millisecond
	c.RetryCount = w.RetryCount
	return nil
}

// DefaultConfig returns the configuration used when Initialize is
// called without an explicit config.
func DefaultConfig() Config {
	return Config{
		Version:        Version{Major: 1, Minor: 0, Patch: 0},
		MaxMessageSize: 1024 * 1024, // 1MB
		Timeout:        30 * time.Second,
		RetryCount:     3,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MaxMessageSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("max_message_size must be positive, got %d", c.MaxMessageSize))
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("timeout must be positive, got %v", c.Timeout))
	}
	if c.RetryCount < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("retry_count must not be negative, got %d", c.RetryCount))
	}
	if c.Version.Major < 0 || c.Version.Minor < 0 || c.Version.Patch < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("version components must not be negative, got %s", c.Version))
	}
	return nil
}

// WithPayloadSchema compiles and attaches a JSON Schema for payloads of
// the given message type, returning a new Config. The validator applies
// the schema to object payloads after the shape check.
func (c Config) WithPayloadSchema(t message.MessageType, rawSchema json.RawMessage) (Config, error) {
	if !t.IsValid() {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "WithPayloadSchema",
			"cannot attach schema to unknown message type "+t.String())
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rawSchema))
	if err != nil {
		return c, errors.WrapInvalid(err, "Config", "WithPayloadSchema",
			"schema compilation for message type "+t.String())
	}

	// Copy-on-write so shared configs stay immutable
	schemas := make(map[message.MessageType]*gojsonschema.Schema, len(c.payloadSchemas)+1)
	for k, v := range c.payloadSchemas {
		schemas[k] = v
	}
	schemas[t] = schema
	c.payloadSchemas = schemas
	return c, nil
}

// PayloadSchema returns the compiled schema registered for the given
// message type, or nil when none is registered.
func (c Config) PayloadSchema(t message.MessageType) *gojsonschema.Schema {
	return c.payloadSchemas[t]
}
