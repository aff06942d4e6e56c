package envelope

import (
	"encoding/json"

	"github.com/coreagent/platform/internal/coreerr"
)

// SegmentType enumerates the message segment kinds the platform core
// understands. Adapters are responsible for normalizing platform-native
// message formats into this tree before handing an envelope to CoreSink.
type SegmentType string

const (
	SegText    SegmentType = "text"
	SegImage   SegmentType = "image"
	SegAt      SegmentType = "at"
	SegFace    SegmentType = "face"
	SegReply   SegmentType = "reply"
	SegForward SegmentType = "forward"
	SegVoice   SegmentType = "voice"
	SegVideo   SegmentType = "video"
	SegFile    SegmentType = "file"
	SegCommand SegmentType = "command"
	SegList    SegmentType = "seglist"
)

// Segment is one node of the message segment tree. Data carries a
// type-specific payload: for SegList it is the ordered child segments;
// for every other type it is the JSON-encoded type-specific struct
// below, decoded on demand via the Text/Image/... accessors.
type Segment struct {
	Type SegmentType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	children []Segment // decoded lazily for SegList
}

// TextData is the payload of a SegText segment.
type TextData struct {
	Text string `json:"text"`
}

// MediaData is the payload shared by image/voice/video/file segments:
// a URL or an inline base64 fallback with its mime type.
type MediaData struct {
	URL       string `json:"url,omitempty"`
	Base64    string `json:"base64,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

// AtData is the payload of a SegAt segment: the mentioned user id, or
// "all" for an at-everyone mention.
type AtData struct {
	UserID string `json:"user_id"`
}

// FaceData is the payload of a SegFace segment: a platform-specific
// emoji/sticker id.
type FaceData struct {
	ID string `json:"id"`
}

// ReplyData is the payload of a SegReply segment: the referenced
// message id.
type ReplyData struct {
	MessageID string `json:"message_id"`
}

// CommandData is the payload of a SegCommand segment: a pre-parsed
// verb plus raw argument string, produced by command-prefix detection
// upstream of component dispatch.
type CommandData struct {
	Verb string `json:"verb"`
	Args string `json:"args"`
}

// Text decodes a SegText segment's payload.
func (s Segment) Text() (TextData, error) {
	var d TextData
	if s.Type != SegText {
		return d, &coreerr.BadEnvelope{Reason: "segment is not text"}
	}
	err := json.Unmarshal(s.Data, &d)
	return d, err
}

// Media decodes an image/voice/video/file segment's payload.
func (s Segment) Media() (MediaData, error) {
	var d MediaData
	switch s.Type {
	case SegImage, SegVoice, SegVideo, SegFile:
	default:
		return d, &coreerr.BadEnvelope{Reason: "segment is not media"}
	}
	err := json.Unmarshal(s.Data, &d)
	return d, err
}

// At decodes a SegAt segment's payload.
func (s Segment) At() (AtData, error) {
	var d AtData
	if s.Type != SegAt {
		return d, &coreerr.BadEnvelope{Reason: "segment is not at"}
	}
	err := json.Unmarshal(s.Data, &d)
	return d, err
}

// Command decodes a SegCommand segment's payload.
func (s Segment) Command() (CommandData, error) {
	var d CommandData
	if s.Type != SegCommand {
		return d, &coreerr.BadEnvelope{Reason: "segment is not command"}
	}
	err := json.Unmarshal(s.Data, &d)
	return d, err
}

// Children returns a SegList/SegForward segment's ordered child
// segments, decoding them on first access.
func (s *Segment) Children() ([]Segment, error) {
	if s.Type != SegList && s.Type != SegForward {
		return nil, &coreerr.BadEnvelope{Reason: "segment has no children"}
	}
	if s.children != nil {
		return s.children, nil
	}
	var kids []Segment
	if err := json.Unmarshal(s.Data, &kids); err != nil {
		return nil, err
	}
	s.children = kids
	return kids, nil
}

// PlainText walks the segment tree and concatenates every SegText leaf,
// the representation the perceptual layer embeds and the reply
// generator reads when building a prompt.
func (s Segment) PlainText() string {
	var out string
	switch s.Type {
	case SegText:
		if d, err := s.Text(); err == nil {
			out += d.Text
		}
	case SegList, SegForward:
		cp := s
		kids, err := cp.Children()
		if err == nil {
			for _, k := range kids {
				out += k.PlainText()
			}
		}
	}
	return out
}

// validateNoCycles walks the segment tree depth-first, rejecting a
// seglist that (by pointer identity during this single walk) contains
// itself. Segments decoded fresh from JSON never alias, so this guards
// against a pathological Segment value built programmatically.
func (s *Segment) validateNoCycles(seen map[*Segment]bool) error {
	if seen[s] {
		return &coreerr.BadEnvelope{Reason: "seglist cycle detected"}
	}
	if s.Type != SegList && s.Type != SegForward {
		return nil
	}
	seen[s] = true
	kids, err := s.Children()
	if err != nil {
		return nil // malformed children handled elsewhere, not a cycle
	}
	for i := range kids {
		if err := kids[i].validateNoCycles(seen); err != nil {
			return err
		}
	}
	delete(seen, s)
	return nil
}
