package blte

import (
	"bytes"
	"compress/zlib"
	"crypto/rc4"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
	"golang.org/x/crypto/salsa20"
)

// Decoder yields a BLTE blob's decoded chunks one at a time. It is a
// lazy, single-pass sequence over its reader (spec.md §9, "lazy
// iteration"): Next may be called until it returns io.EOF, and nothing
// beyond the current chunk is held in memory.
type Decoder struct {
	r       io.Reader
	chunks  []chunkInfo
	idx     int
	keys    KeyProvider
	single  bool // header_size == 0: entire remaining input is one chunk
	single0 bool // whether the single chunk has already been read
}

// Decode opens a BLTE stream for chunk-by-chunk decoding. When
// expectedEKey is non-zero and the blob has a chunk table, the header
// region's MD5 is checked against it before any chunk is yielded; a
// mismatch is an IntegrityError. A single-chunk blob (header size zero)
// is not checked against expectedEKey.
func Decode(r io.Reader, expectedEKey key.Key, keys KeyProvider) (*Decoder, error) {
	head, headerSize, err := readHeaderSize(r)
	if err != nil {
		return nil, err
	}

	if headerSize == 0 {
		return &Decoder{r: r, keys: keys, single: true}, nil
	}

	rest, chunks, err := readChunkTable(r, headerSize)
	if err != nil {
		return nil, err
	}

	if !expectedEKey.IsZero() {
		headerRegion := append(append([]byte{}, head...), rest...)
		got := key.Of(headerRegion)
		if got != expectedEKey {
			return nil, &kegerrors.IntegrityError{Expected: expectedEKey.String(), Actual: got.String(), What: "blte header"}
		}
	}

	return &Decoder{r: r, chunks: chunks, keys: keys}, nil
}

// Next returns the next decoded chunk, or io.EOF when the stream is
// exhausted.
func (d *Decoder) Next() ([]byte, error) {
	if d.single {
		if d.single0 {
			return nil, io.EOF
		}
		d.single0 = true

		raw, err := io.ReadAll(d.r)
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "blte", Reason: "reading single-chunk payload: " + err.Error()}
		}
		return d.decodePayload(raw, nil)
	}

	if d.idx >= len(d.chunks) {
		return nil, io.EOF
	}
	info := d.chunks[d.idx]
	d.idx++

	raw := make([]byte, info.encodedSize)
	if _, err := io.ReadFull(d.r, raw); err != nil {
		return nil, &kegerrors.ParseError{Format: "blte", Reason: fmt.Sprintf("short chunk %d: %v", d.idx-1, err)}
	}

	if !info.checksum.IsZero() {
		got := key.Of(raw)
		if got != info.checksum {
			return nil, &kegerrors.IntegrityError{Expected: info.checksum.String(), Actual: got.String(), What: "blte chunk"}
		}
	}

	return d.decodePayload(raw, &info)
}

// Stream adapts the Decoder to a plain io.Reader over the full decoded
// content, for callers (BLTE-within-BLTE, build manager output) that
// just want bytes rather than per-chunk control.
func (d *Decoder) Stream() io.Reader {
	return &streamReader{dec: d}
}

type streamReader struct {
	dec *Decoder
	buf []byte
}

func (s *streamReader) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		chunk, err := s.dec.Next()
		if err != nil {
			return 0, err
		}
		s.buf = chunk
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// DecodeAll reads an entire BLTE blob into memory, verifying against
// expectedEKey if non-zero. Convenience wrapper over Decoder for small
// objects (configs, manifests) where streaming buys nothing.
func DecodeAll(r io.Reader, expectedEKey key.Key, keys KeyProvider) ([]byte, error) {
	dec, err := Decode(r, expectedEKey, keys)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	for {
		chunk, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out.Write(chunk)
	}
	return out.Bytes(), nil
}

func (d *Decoder) decodePayload(raw []byte, info *chunkInfo) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	mode := Mode(raw[0])
	body := raw[1:]

	switch mode {
	case ModeRaw:
		return body, nil

	case ModeZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "blte", Reason: "zlib: " + err.Error()}
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "blte", Reason: "zlib: " + err.Error()}
		}
		return out, nil

	case ModeLZ4:
		return decodeLZ4(body)

	case ModeRecursive:
		inner, err := Decode(bytes.NewReader(body), key.Key{}, d.keys)
		if err != nil {
			return nil, err
		}
		return readAllChunks(inner)

	case ModeEncrypted:
		return d.decodeEncrypted(body, info)

	default:
		return nil, &kegerrors.ParseError{Format: "blte", Reason: fmt.Sprintf("unknown chunk mode %q", mode)}
	}
}

func readAllChunks(dec *Decoder) ([]byte, error) {
	var out bytes.Buffer
	for {
		chunk, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out.Write(chunk)
	}
	return out.Bytes(), nil
}

// decodeEncrypted decodes an 'E' payload laid out as: key name length,
// key name, IV length, IV, algorithm byte ('S' Salsa20 or 'A' ARC4),
// then the encrypted inner-mode payload.
func (d *Decoder) decodeEncrypted(body []byte, info *chunkInfo) ([]byte, error) {
	if len(body) < 1 {
		return nil, &kegerrors.ParseError{Format: "blte", Reason: "truncated encrypted chunk"}
	}
	keyNameLen := int(body[0])
	if len(body) < 1+keyNameLen+1 {
		return nil, &kegerrors.ParseError{Format: "blte", Reason: "truncated encrypted chunk key name"}
	}
	keyName := hex.EncodeToString(reverse(body[1 : 1+keyNameLen]))
	rest := body[1+keyNameLen:]

	ivLen := int(rest[0])
	if len(rest) < 1+ivLen+1 {
		return nil, &kegerrors.ParseError{Format: "blte", Reason: "truncated encrypted chunk iv"}
	}
	iv := rest[1 : 1+ivLen]
	algo := rest[1+ivLen]
	cipherBody := rest[2+ivLen:]

	if d.keys == nil {
		return nil, &kegerrors.MissingKey{Name: keyName}
	}
	secret, ok := d.keys.Key(keyName)
	if !ok {
		return nil, &kegerrors.MissingKey{Name: keyName}
	}

	plain := make([]byte, len(cipherBody))
	switch algo {
	case 'S': // Salsa20
		nonce := make([]byte, 8)
		copy(nonce, iv)
		key32 := padKey32(secret)
		salsa20.XORKeyStream(plain, cipherBody, nonce, &key32)
	case 'A': // ARC4
		rc4key := make([]byte, len(secret))
		copy(rc4key, secret)
		for i := range iv {
			if i < len(rc4key) {
				rc4key[i] ^= iv[i]
			}
		}
		c, err := rc4.NewCipher(rc4key)
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "blte", Reason: "arc4: " + err.Error()}
		}
		c.XORKeyStream(plain, cipherBody)
	default:
		return nil, &kegerrors.ParseError{Format: "blte", Reason: fmt.Sprintf("unknown encryption algo %q", algo)}
	}

	return d.decodePayload(plain, info)
}

func padKey32(k []byte) [32]byte {
	var out [32]byte
	copy(out[:], k)
	return out
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
