package danmaku

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSTT(t *testing.T) {
	fields := parseSTT("type@=chatmsg/rid@=123/nn@=小明/txt@=前方高能@S注意@A/col@=6/")
	assert.Equal(t, "chatmsg", fields["type"])
	assert.Equal(t, "123", fields["rid"])
	assert.Equal(t, "小明", fields["nn"])
	assert.Equal(t, "前方高能/注意@", fields["txt"])
	assert.Equal(t, "6", fields["col"])
}

func TestHandlePayloadChat(t *testing.T) {
	var got *Message
	c := &douyuClient{onMessage: func(msg *Message) { got = msg }}
	c.handlePayload([]byte("type@=chatmsg/uid@=42/nn@=小明/txt@=hello/"))
	require.NotNil(t, got)
	assert.Equal(t, MsgComment, got.Type)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "小明", got.Sender.Name)
	assert.Equal(t, "42", got.Sender.UID)
}

func TestHandlePayloadGift(t *testing.T) {
	var got *Message
	c := &douyuClient{onMessage: func(msg *Message) { got = msg }}
	c.handlePayload([]byte("type@=dgb/gfn@=飞机/gfcnt@=3/pc@=3000/uid@=7/nn@=土豪/"))
	require.NotNil(t, got)
	assert.Equal(t, MsgGiveGift, got.Type)
	assert.Equal(t, "飞机", got.GiftName)
	assert.Equal(t, 3, got.GiftCount)
	assert.InDelta(t, 30.0, got.GiftPrice, 1e-9)
}

func TestHandlePayloadIgnoresUnknownType(t *testing.T) {
	called := false
	c := &douyuClient{onMessage: func(msg *Message) { called = true }}
	c.handlePayload([]byte("type@=uenter/nn@=路人/"))
	assert.False(t, called)
}

func TestNewClientUnsupportedPlatform(t *testing.T) {
	_, err := NewClient("https://live.example.com/1", "1", nil, nil)
	assert.ErrorIs(t, err, ErrPlatformNotSupported)
}
