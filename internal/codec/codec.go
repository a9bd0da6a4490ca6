package codec

import (
	"io"
	"mime"
	"strings"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is a Marshaler and Unmarshaler pair for one content type.
type Codec interface {
	Marshaler
	Unmarshaler
	ContentType() string
}

// ForContentType returns the codec for a MIME type. Parameters such as
// charset are ignored and an empty type means JSON.
func ForContentType(contentType string) (Codec, bool) {
	if contentType == "" {
		return JSON{}, true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(contentType)
	}
	switch strings.ToLower(mt) {
	case ContentTypeJSON, "text/json":
		return JSON{}, true
	case ContentTypeCBOR:
		return NewCBOR(), true
	}
	return nil, false
}
