// Package encoding provides text decoding for names stored in Ragnarok Online model files.
package encoding

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// EUCKRToUTF8 converts EUC-KR encoded bytes to a UTF-8 string.
// Returns the input unchanged if it is not valid EUC-KR.
func EUCKRToUTF8(data []byte) string {
	result, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// FixedStringToUTF8 decodes a fixed-size, null-padded EUC-KR field.
func FixedStringToUTF8(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return EUCKRToUTF8(data)
}

// NormalizeAssetPath folds a texture or model path into the key used for material lookup:
// forward slashes, lower case, no leading "data/" prefix.
func NormalizeAssetPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ToLower(path)
	return strings.TrimPrefix(path, "data/")
}
