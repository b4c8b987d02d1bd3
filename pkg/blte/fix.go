package blte

import (
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
)

// Fix accepts a BLTE blob with extraneous trailing bytes and rewrites
// it to w, truncated to exactly the size the header table declares
// (spec.md §4.1, "Tail tolerance"). A single-chunk blob has no
// declared size and is copied through unchanged.
func Fix(r io.Reader, w io.Writer) error {
	head, headerSize, err := readHeaderSize(r)
	if err != nil {
		return err
	}
	if _, err := w.Write(head); err != nil {
		return err
	}

	if headerSize == 0 {
		_, err := io.Copy(w, r)
		return err
	}

	rest, chunks, err := readChunkTable(r, headerSize)
	if err != nil {
		return err
	}
	if _, err := w.Write(rest); err != nil {
		return err
	}

	var want int64
	for _, c := range chunks {
		want += int64(c.encodedSize)
	}

	if _, err := io.CopyN(w, r, want); err != nil && err != io.EOF {
		return &kegerrors.ParseError{Format: "blte", Reason: "fix: " + err.Error()}
	}
	return nil
}
