// Package charset normalizes centre file content to UTF-8. Most centres
// export UTF-8 but some instruments still emit Windows-1252, so content is
// sniffed and decoded before any CSV parsing.
package charset

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding represents a text encoding
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingWindows1252 Encoding = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detect sniffs the encoding of a byte buffer. Valid UTF-8 (with or without
// BOM) wins; anything else is assumed Windows-1252, which never fails to
// decode.
func Detect(data []byte) Encoding {
	if bytes.HasPrefix(data, utf8BOM) {
		return EncodingUTF8
	}
	if utf8.Valid(data) {
		return EncodingUTF8
	}
	return EncodingWindows1252
}

// Decode converts a byte buffer from the given encoding to UTF-8, stripping
// any leading BOM.
func Decode(data []byte, enc Encoding) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	switch enc {
	case EncodingWindows1252:
		return charmap.Windows1252.NewDecoder().Bytes(data)
	default:
		return data, nil
	}
}

// ToUTF8 sniffs and decodes in one step
func ToUTF8(data []byte) ([]byte, error) {
	return Decode(data, Detect(data))
}
