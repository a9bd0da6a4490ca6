// Package stomp carries STOMP 1.2 frames over WebSocket messages. The frames
// themselves are go-stomp's; this package fits them to one frame per
// message.
//
// Over a WebSocket every message carries one frame, or a lone end-of-line
// that serves as a heart-beat.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// HeaderAuthorization carries the bearer credential in CONNECT.
const HeaderAuthorization = "Authorization"

const Version = "1.2"

var (
	ErrHeartBeat = errors.New("stomp: heart-beat")
	ErrMalformed = errors.New("stomp: malformed frame")
)

// Marshal encodes f as one message. A content-length header is set when the
// body is not empty, so bodies may hold NUL bytes.
func Marshal(f *frame.Frame) ([]byte, error) {
	if f.Header == nil {
		f.Header = frame.NewHeader()
	}
	if len(f.Body) > 0 {
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(f.Body)))
	}

	var b bytes.Buffer
	if err := frame.NewWriter(&b).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode %s: %w", f.Command, err)
	}
	return b.Bytes(), nil
}

// Unmarshal decodes the frame in one message. A message made only of
// end-of-lines returns ErrHeartBeat.
func Unmarshal(data []byte) (*frame.Frame, error) {
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return nil, ErrHeartBeat
	}

	r := frame.NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		// end-of-lines ahead of the frame
		if f != nil {
			return f, nil
		}
	}
}

// HeartBeat is the pair of intervals negotiated with the heart-beat header.
// Zero means no heart-beats in that direction.
type HeartBeat struct {
	Send    time.Duration
	Receive time.Duration
}

func (h HeartBeat) String() string {
	return fmt.Sprintf("%d,%d", h.Send.Milliseconds(), h.Receive.Milliseconds())
}

// ParseHeartBeat reads a heart-beat header. An absent header means no
// heart-beats.
func ParseHeartBeat(s string) (HeartBeat, error) {
	if s == "" {
		return HeartBeat{}, nil
	}
	send, receive, err := frame.ParseHeartBeat(s)
	if err != nil {
		return HeartBeat{}, fmt.Errorf("%w: heart-beat %q: %w", ErrMalformed, s, err)
	}
	return HeartBeat{Send: send, Receive: receive}, nil
}

// Negotiate returns the intervals the client uses given what it offered and
// what the server answered: the client sends every max(cx, sy) and expects
// something from the server every max(sx, cy).
func Negotiate(client, server HeartBeat) HeartBeat {
	var out HeartBeat
	if client.Send > 0 && server.Receive > 0 {
		out.Send = max(client.Send, server.Receive)
	}
	if client.Receive > 0 && server.Send > 0 {
		out.Receive = max(client.Receive, server.Send)
	}
	return out
}
