package codec

import (
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborOnce sync.Once
	cborEnc  cbor.EncMode
	cborDec  cbor.DecMode
)

func cborModes() (cbor.EncMode, cbor.DecMode) {
	cborOnce.Do(func() {
		var err error
		cborEnc, err = cbor.EncOptions{
			Time:    cbor.TimeRFC3339,
			TimeTag: cbor.EncTagRequired,
		}.EncMode()
		if err != nil {
			panic(err)
		}
		cborDec, err = cbor.DecOptions{
			TimeTagToAny: cbor.TimeTagToTime,
		}.DecMode()
		if err != nil {
			panic(err)
		}
	})
	return cborEnc, cborDec
}

// CBOR encodes times as tagged RFC 3339 strings, so they survive a round trip
// through untyped values.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBOR() *CBOR {
	enc, dec := cborModes()
	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) ContentType() string {
	return ContentTypeCBOR
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}
