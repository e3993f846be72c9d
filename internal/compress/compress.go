package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxDecodedSize bounds a decoded payload; article bodies are far smaller.
const MaxDecodedSize = 16 << 20

var ErrTooLarge = errors.New("decoded payload too large")

// Compress encodes and decodes message payloads.
type Compress interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

const (
	NameNone   = "none"
	NameGzip   = "gzip"
	NameLz4    = "lz4"
	NameBrotli = "br"
)

// ByName resolves a codec from its content-encoding name.
func ByName(name string) (Compress, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameNone, "identity":
		return NewIdentity(), nil
	case NameGzip:
		return NewGZip(), nil
	case NameLz4:
		return NewLz4(), nil
	case NameBrotli, "brotli":
		return NewBrotli(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// Name returns the content-encoding name of a codec.
func Name(c Compress) string {
	switch c.(type) {
	case GZip:
		return NameGzip
	case Lz4:
		return NameLz4
	case Brotli:
		return NameBrotli
	default:
		return NameNone
	}
}

// Identity leaves payloads as they are.
type Identity struct{}

func NewIdentity() Identity {
	return Identity{}
}

func (Identity) Encode(data []byte) ([]byte, error) {
	return data, nil
}

func (Identity) Decode(data []byte) ([]byte, error) {
	return data, nil
}

// readLimited drains r, failing once more than MaxDecodedSize bytes come out.
func readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if n > MaxDecodedSize {
		return nil, ErrTooLarge
	}

	return buf.Bytes(), nil
}
