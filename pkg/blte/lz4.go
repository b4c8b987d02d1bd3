package blte

import (
	"bytes"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/pierrec/lz4/v4"
)

// decodeLZ4 decompresses a mode '4' chunk: an LZ4 framed stream.
func decodeLZ4(body []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, &kegerrors.ParseError{Format: "blte", Reason: "lz4: " + err.Error()}
	}
	return out, nil
}
