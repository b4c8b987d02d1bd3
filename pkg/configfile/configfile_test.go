package configfile_test

import (
	"crypto/md5" //nolint:gosec
	"strings"
	"testing"

	"github.com/fluxxu/keg/pkg/configfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# this is a BuildConfig
root = aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa

encoding = bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb cccccccccccccccccccccccccccccccc
install = dddddddddddddddddddddddddddddddd
`

func TestParseKeyValue(t *testing.T) {
	f, err := configfile.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", f.Value("root"))

	vals, ok := f.Values("encoding")
	require.True(t, ok)
	assert.Equal(t, []string{"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "cccccccccccccccccccccccccccccccc"}, vals)

	assert.False(t, f.Has("missing"))
}

func TestDigestMatchesExplicitHex(t *testing.T) {
	f, err := configfile.ParseBytes([]byte(sample))
	require.NoError(t, err)
	sum := md5.Sum([]byte(sample)) //nolint:gosec
	assert.Equal(t, sumHex(sum), f.Digest().String())
}

func sumHex(b [16]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 32)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
