package message

import (
	"time"

	"github.com/DataScienceBioLab/squirrel/pkg/timestamp"
)

// Metadata is the optional bag of transport and provenance information
// attached to a message envelope. All fields are optional; omitted
// fields are elided from the wire format.
type Metadata struct {
	// Timestamp is when the message was created, as unix milliseconds.
	// The validator uses it for freshness checks. Zero means unset.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Source identifies the component that created the message.
	Source string `json:"source,omitempty"`

	// Destination identifies the intended recipient, if any.
	Destination string `json:"destination,omitempty"`

	// SecurityLevel tags the message for downstream authorization
	// layers. Interpreted by collaborators outside the protocol core.
	SecurityLevel string `json:"security_level,omitempty"`

	// Compression names the payload compression scheme, if any.
	Compression string `json:"compression,omitempty"`

	// Encryption names the payload encryption scheme, if any.
	Encryption string `json:"encryption,omitempty"`
}

// CreatedAt returns the metadata timestamp as a time.Time.
// Returns the zero time if the timestamp is unset.
func (md *Metadata) CreatedAt() time.Time {
	return timestamp.ToTime(md.Timestamp)
}

// Age returns how long ago the message was created.
// Returns 0 if the timestamp is unset.
func (md *Metadata) Age() time.Duration {
	return timestamp.Since(md.Timestamp)
}
