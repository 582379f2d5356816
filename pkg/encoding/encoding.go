// Package encoding holds the text codecs used for opaque blobs persisted in text columns.
package encoding

import (
	"encoding/base64"
	"fmt"
)

// BinaryEncoding turns opaque bytes into a text-safe form and back.
type BinaryEncoding int

const (
	Base64 BinaryEncoding = iota
	Base64URL
)

func (e BinaryEncoding) codec() *base64.Encoding {
	switch e {
	case Base64URL:
		return base64.URLEncoding
	default:
		return base64.StdEncoding
	}
}

func (e BinaryEncoding) String() string {
	switch e {
	case Base64URL:
		return "base64url"
	default:
		return "base64"
	}
}

// Encode never fails. Decoding its output yields the input bytes.
func (e BinaryEncoding) Encode(b []byte) string {
	return e.codec().EncodeToString(b)
}

func (e BinaryEncoding) Decode(s string) ([]byte, error) {
	b, err := e.codec().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e, err)
	}
	return b, nil
}
