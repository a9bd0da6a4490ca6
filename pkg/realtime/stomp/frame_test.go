package stomp

import (
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalMessage(t *testing.T) {
	f := frame.New(frame.MESSAGE,
		frame.Destination, "/user/7/queue/notifications",
		frame.MessageId, "m:1",
	)
	f.Body = []byte(`{"id":1}`)

	data, err := Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), "message-id:m\\c1\n")
	assert.Contains(t, string(data), "content-length:8\n")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, frame.MESSAGE, got.Command)
	assert.Equal(t, "/user/7/queue/notifications", got.Header.Get(frame.Destination))
	assert.Equal(t, "m:1", got.Header.Get(frame.MessageId))
	assert.Equal(t, f.Body, got.Body)
}

func TestConnectCarriesBearer(t *testing.T) {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, Version,
		HeaderAuthorization, "Bearer eyJ.abc.def",
	)
	data, err := Marshal(f)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, frame.CONNECT, got.Command)
	assert.Equal(t, "Bearer eyJ.abc.def", got.Header.Get(HeaderAuthorization))
	assert.Empty(t, got.Body)
}

func TestUnmarshalWithoutContentLength(t *testing.T) {
	got, err := Unmarshal([]byte("\r\nERROR\r\nmessage:bad token\r\n\r\nexpired\x00\n"))
	require.NoError(t, err)
	assert.Equal(t, frame.ERROR, got.Command)
	assert.Equal(t, "bad token", got.Header.Get(frame.Message))
	assert.Equal(t, "expired", string(got.Body))
}

func TestBodyWithNullUsesContentLength(t *testing.T) {
	f := frame.New(frame.SEND, frame.Destination, "/x")
	f.Body = []byte{'a', 0, 'b'}

	data, err := Marshal(f)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, f.Body, got.Body)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte("\n"))
	require.ErrorIs(t, err, ErrHeartBeat)
	_, err = Unmarshal([]byte("\r\n\r\n"))
	require.ErrorIs(t, err, ErrHeartBeat)

	_, err = Unmarshal([]byte("MESSAGE\n\nbody"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestHeartBeat(t *testing.T) {
	hb, err := ParseHeartBeat("4000,0")
	require.NoError(t, err)
	assert.Equal(t, HeartBeat{Send: 4 * time.Second}, hb)
	assert.Equal(t, "4000,0", hb.String())

	hb, err = ParseHeartBeat("")
	require.NoError(t, err)
	assert.Equal(t, HeartBeat{}, hb)

	_, err = ParseHeartBeat("4000")
	require.ErrorIs(t, err, ErrMalformed)

	got := Negotiate(
		HeartBeat{Send: 4 * time.Second, Receive: 4 * time.Second},
		HeartBeat{Send: 10 * time.Second, Receive: 1 * time.Second},
	)
	assert.Equal(t, HeartBeat{Send: 4 * time.Second, Receive: 10 * time.Second}, got)

	assert.Equal(t, HeartBeat{}, Negotiate(HeartBeat{Send: time.Second}, HeartBeat{}))
}
