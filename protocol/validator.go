package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/message"
	"github.com/DataScienceBioLab/squirrel/pkg/timestamp"
)

// ValidateMessage decides whether a message is well-formed and
// admissible under the given configuration, before any handler sees it.
//
// Checks run in order, first failure wins:
//  1. message type must be a recognized variant
//  2. serialized size must not exceed cfg.MaxMessageSize
//  3. metadata timestamp, if present, must not be in the future and
//     must not be older than cfg.Timeout
//  4. Command/Request payloads must be JSON objects, and must satisfy
//     the payload schema registered for the type, if any
//
// The function is pure: it never mutates the message or any protocol
// state.
func ValidateMessage(msg *message.Message, cfg Config) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrInvalidFormat, "Validator", "ValidateMessage",
			"message must not be nil")
	}

	// 1. Message type known
	if !msg.MessageType().IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidFormat, "Validator", "ValidateMessage",
			fmt.Sprintf("unrecognized message type %q", msg.MessageType()))
	}

	// 2. Size bound
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "Validator", "ValidateMessage", "message serialization")
	}
	if len(data) > cfg.MaxMessageSize {
		return errors.WrapInvalid(errors.ErrMessageTooLarge, "Validator", "ValidateMessage",
			fmt.Sprintf("message size %d bytes exceeds maximum %d bytes", len(data), cfg.MaxMessageSize))
	}

	// 3. Timestamp sanity (only when metadata carries a timestamp)
	if meta := msg.Metadata(); meta != nil && meta.Timestamp != 0 {
		now := timestamp.Now()
		if meta.Timestamp > now {
			return errors.WrapInvalid(errors.ErrInvalidTimestamp, "Validator", "ValidateMessage",
				fmt.Sprintf("timestamp %s is %v in the future",
					timestamp.Format(meta.Timestamp), timestamp.Between(now, meta.Timestamp)))
		}
		if age := timestamp.Between(meta.Timestamp, now); age > cfg.Timeout {
			return errors.WrapInvalid(errors.ErrMessageTimeout, "Validator", "ValidateMessage",
				fmt.Sprintf("message is %v old, staleness bound is %v", age, cfg.Timeout))
		}
	}

	// 4. Payload shape for Command/Request
	if msg.MessageType().RequiresObjectPayload() {
		if err := validateObjectPayload(msg, cfg); err != nil {
			return err
		}
	}

	return nil
}

// validateObjectPayload enforces the object-shape rule and the optional
// per-type payload schema.
func validateObjectPayload(msg *message.Message, cfg Config) error {
	payload := msg.Payload()
	if len(payload) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidPayload, "Validator", "ValidateMessage",
			fmt.Sprintf("%s messages require a JSON object payload, got none", msg.MessageType()))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidPayload, "Validator", "ValidateMessage",
			fmt.Sprintf("%s payload must be a JSON object, got %s",
				msg.MessageType(), payloadKind(payload)))
	}
	if obj == nil {
		// "null" decodes into a nil map without error
		return errors.WrapInvalid(errors.ErrInvalidPayload, "Validator", "ValidateMessage",
			fmt.Sprintf("%s payload must be a JSON object, got null", msg.MessageType()))
	}

	schema := cfg.PayloadSchema(msg.MessageType())
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidPayload, "Validator", "ValidateMessage",
			"payload schema evaluation: "+err.Error())
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return errors.WrapInvalid(errors.ErrInvalidPayload, "Validator", "ValidateMessage",
			fmt.Sprintf("payload schema violation for %s: %s", msg.MessageType(), first.String()))
	}

	return nil
}

// payloadKind names the JSON kind of a raw payload for error messages.
func payloadKind(raw json.RawMessage) string {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return "object"
		case '[':
			return "array"
		case '"':
			return "string"
		case 't', 'f':
			return "boolean"
		case 'n':
			return "null"
		default:
			return "number"
		}
	}
	return "empty"
}
