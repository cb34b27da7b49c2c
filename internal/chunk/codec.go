// Package chunk splits files into fixed-size chunks, encodes them for a text
// channel and reassembles them on the receiving side.
package chunk

import (
	"encoding/base64"
	"fmt"
)

const (
	DefaultSize = 64 * 1024
	// MaxSize keeps an encoded chunk comfortably under the relay frame limit.
	MaxSize = 256 * 1024
)

// CodecError reports chunk data that could not be decoded.
type CodecError struct {
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("chunk codec: %v", e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Encode converts a byte range to its transport text form.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode. Malformed input yields a *CodecError.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &CodecError{Err: err}
	}
	return data, nil
}
