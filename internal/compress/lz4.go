package compress

import (
	"bytes"

	"github.com/pierrec/lz4/v4"
)

type Lz4 struct {
}

func NewLz4() Lz4 {
	return Lz4{}
}

func (l Lz4) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (l Lz4) Decode(data []byte) ([]byte, error) {
	return readLimited(lz4.NewReader(bytes.NewReader(data)))
}
