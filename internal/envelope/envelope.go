// Package envelope defines MessageEnvelope, the universal inter-subsystem
// record every adapter, route, and handler in the platform core speaks.
// Envelopes are immutable after ingestion; nothing in this package
// mutates a decoded envelope in place.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/coreagent/platform/internal/coreerr"
)

// Direction distinguishes envelopes flowing in from an adapter versus
// out to one.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// MessageKind classifies the platform event carried by an envelope.
type MessageKind string

const (
	KindPrivate MessageKind = "private"
	KindGroup   MessageKind = "group"
	KindNotice  MessageKind = "notice"
	KindMeta    MessageKind = "meta"
)

// CurrentSchemaVersion is the schema version this build encodes and
// prefers to decode. Older versions are upgraded in place by Upgrade.
const CurrentSchemaVersion = 1

// Identity describes a sender or a bot self-identity on a platform.
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// MessageInfo carries the sender/group/self identity and message
// classification for one envelope.
type MessageInfo struct {
	User        Identity    `json:"user"`
	Group       *Identity   `json:"group,omitempty"`
	SelfID      string      `json:"self_id"`
	ToMe        bool        `json:"to_me"`
	MessageType MessageKind `json:"message_type"`
}

// StreamID derives the ChatStream key for an envelope: platform plus
// group id when present, else platform plus user id.
func (mi MessageInfo) StreamID(platform string) string {
	if mi.Group != nil && mi.Group.ID != "" {
		return fmt.Sprintf("%s:group:%s", platform, mi.Group.ID)
	}
	return fmt.Sprintf("%s:private:%s", platform, mi.User.ID)
}

// MessageEnvelope is the universal record carrying one platform event
// (or one outbound reply) across every subsystem boundary.
type MessageEnvelope struct {
	Direction      Direction       `json:"direction"`
	Platform       string          `json:"platform"`
	MessageID      string          `json:"message_id"`
	TimestampMs    int64           `json:"timestamp_ms"`
	MessageInfo    MessageInfo     `json:"message_info"`
	MessageSegment Segment         `json:"message_segment"`
	RawMessage     string          `json:"raw_message,omitempty"`
	SchemaVersion  int             `json:"schema_version"`
}

// StreamID derives the owning ChatStream's key for this envelope.
func (e MessageEnvelope) StreamID() string {
	return e.MessageInfo.StreamID(e.Platform)
}

// Validate checks the structural invariants required before an envelope
// may enter the runtime: required fields present, no seglist cycles.
func (e MessageEnvelope) Validate() error {
	if e.Platform == "" {
		return &coreerr.BadEnvelope{Reason: "missing platform"}
	}
	if e.Direction != Incoming && e.Direction != Outgoing {
		return &coreerr.BadEnvelope{Reason: "invalid direction " + string(e.Direction)}
	}
	if e.MessageSegment.Type == "" {
		return &coreerr.BadEnvelope{Reason: "missing message_segment"}
	}
	if err := e.MessageSegment.validateNoCycles(make(map[*Segment]bool)); err != nil {
		return err
	}
	return nil
}

// Encode serializes an envelope to its JSON wire form.
func Encode(e MessageEnvelope) ([]byte, error) {
	if e.SchemaVersion == 0 {
		e.SchemaVersion = CurrentSchemaVersion
	}
	return json.Marshal(e)
}

// Decode parses the JSON wire form of an envelope and applies the
// upgrade hook when the encoded schema_version is older than current.
func Decode(raw []byte) (MessageEnvelope, error) {
	var e MessageEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return MessageEnvelope{}, &coreerr.BadEnvelope{Reason: err.Error()}
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = 1
	}
	if e.SchemaVersion < CurrentSchemaVersion {
		e = Upgrade(e)
	}
	if err := e.Validate(); err != nil {
		return MessageEnvelope{}, err
	}
	return e, nil
}

// Upgrade migrates an envelope encoded under an older schema_version to
// the current one. It is a no-op hook today (schema version 1 is the
// only version this build has ever emitted) but every ingestion path
// routes through it so a future bump has a single seam.
func Upgrade(e MessageEnvelope) MessageEnvelope {
	e.SchemaVersion = CurrentSchemaVersion
	return e
}

// Batch is the wire form for a batch of envelopes exchanged with an
// HTTP adapter transport.
type Batch struct {
	SchemaVersion int               `json:"schema_version"`
	Items         []MessageEnvelope `json:"items"`
}
