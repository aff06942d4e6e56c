package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textSegment(s string) Segment {
	raw, _ := json.Marshal(TextData{Text: s})
	return Segment{Type: SegText, Data: raw}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := MessageEnvelope{
		Direction:   Incoming,
		Platform:    "qq",
		MessageID:   "m1",
		TimestampMs: 1000,
		MessageInfo: MessageInfo{
			User:        Identity{ID: "1"},
			SelfID:      "bot",
			MessageType: KindPrivate,
		},
		MessageSegment: textSegment("hello"),
		SchemaVersion:  CurrentSchemaVersion,
	}

	raw, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, e.Platform, got.Platform)
	assert.Equal(t, e.MessageID, got.MessageID)
	assert.Equal(t, e.TimestampMs, got.TimestampMs)
	assert.Equal(t, e.MessageInfo.User.ID, got.MessageInfo.User.ID)
	assert.Equal(t, "hello", got.MessageSegment.PlainText())
}

func TestDecodeDefaultsSchemaVersion(t *testing.T) {
	raw := []byte(`{"direction":"incoming","platform":"qq","message_id":"m2","message_info":{"user":{"id":"1"},"message_type":"private"},"message_segment":{"type":"text","data":{"text":"hi"}}}`)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, got.SchemaVersion)
}

func TestDecodeRejectsMissingPlatform(t *testing.T) {
	raw := []byte(`{"direction":"incoming","message_id":"m3","message_segment":{"type":"text","data":{"text":"hi"}}}`)
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestStreamIDGroupVsPrivate(t *testing.T) {
	priv := MessageInfo{User: Identity{ID: "42"}}
	assert.Equal(t, "qq:private:42", priv.StreamID("qq"))

	grp := MessageInfo{User: Identity{ID: "42"}, Group: &Identity{ID: "7"}}
	assert.Equal(t, "qq:group:7", grp.StreamID("qq"))
}

func TestSeglistNoCycleValidates(t *testing.T) {
	kids := []Segment{textSegment("a"), textSegment("b")}
	kidsRaw, _ := json.Marshal(kids)
	list := Segment{Type: SegList, Data: kidsRaw}
	e := MessageEnvelope{
		Direction:      Incoming,
		Platform:       "qq",
		MessageID:      "m4",
		MessageInfo:    MessageInfo{User: Identity{ID: "1"}, MessageType: KindPrivate},
		MessageSegment: list,
		SchemaVersion:  CurrentSchemaVersion,
	}
	require.NoError(t, e.Validate())
}
