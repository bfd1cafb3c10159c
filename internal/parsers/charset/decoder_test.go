package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		expected Encoding
	}{
		{
			name:     "UTF-8 BOM",
			content:  []byte{0xEF, 0xBB, 0xBF, 'R', 'e', 's', 'u', 'l', 't'},
			expected: EncodingUTF8,
		},
		{
			name:     "plain ASCII",
			content:  []byte("Root Sample ID,Result"),
			expected: EncodingUTF8,
		},
		{
			name:     "Windows-1252 pound sign",
			content:  []byte{'L', 'a', 'b', ' ', 0xA3}, // £ in cp1252, invalid UTF-8
			expected: EncodingWindows1252,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Detect(tt.content))
		})
	}
}

func TestToUTF8(t *testing.T) {
	out, err := ToUTF8([]byte{0xEF, 0xBB, 0xBF, 'a', 'b'})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), out, "BOM is stripped")

	out, err = ToUTF8([]byte{'a', 0xE9, 'b'}) // é in cp1252
	require.NoError(t, err)
	assert.Equal(t, "aéb", string(out))
}
