package anvil

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

type Compression byte

const (
	CompressionGzip   Compression = 1
	CompressionZlib   Compression = 2
	CompressionNone   Compression = 3
	CompressionLZ4    Compression = 4
	CompressionCustom Compression = 127

	// externalFlag marks a chunk whose body lives in a c.<x>.<z>.mcc file.
	externalFlag = 0x80
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionCustom:
		return "custom"
	}
	return fmt.Sprintf("compression(%d)", byte(c))
}

func decompress(c Compression, body []byte) ([]byte, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionGzip:
		rc, err = gzip.NewReader(bytes.NewReader(body))
	case CompressionZlib:
		rc, err = zlib.NewReader(bytes.NewReader(body))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	return out, nil
}

func compress(c Compression, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
