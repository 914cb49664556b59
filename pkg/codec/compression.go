package codec

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the byte-level wrapping applied to a serialization
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	// CompressionDeflate is DEFLATE with zlib framing (RFC 1950)
	CompressionDeflate Compression = "deflate"
	// CompressionDeflateRaw is bare DEFLATE (RFC 1951)
	CompressionDeflateRaw Compression = "deflate-raw"
	CompressionZstd       Compression = "zstd"
	CompressionLZ4        Compression = "lz4"
)

// ParseCompression resolves a compression name; empty means none
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(name))); c {
	case "", "identity":
		return CompressionNone, nil
	case CompressionNone, CompressionGzip, CompressionDeflate, CompressionDeflateRaw, CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps w so that bytes written are compressed; Close flushes the trailer but does not close w
func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionDeflate:
		return zlib.NewWriterLevel(w, zlib.DefaultCompression)
	case CompressionDeflateRaw:
		return flate.NewWriter(w, flate.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// decompressReader wraps r so that reads return decompressed bytes
func decompressReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone, "":
		return io.NopCloser(r), nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, &CompressionError{Compression: c, Err: err}
		}
		return zr, nil
	case CompressionDeflate:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, &CompressionError{Compression: c, Err: err}
		}
		return zr, nil
	case CompressionDeflateRaw:
		return flate.NewReader(r), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, &CompressionError{Compression: c, Err: err}
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// readAll drains a decompressing reader, reporting corrupt input as CompressionError
func readAll(r io.Reader, c Compression) ([]byte, error) {
	zr, err := decompressReader(r, c)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		if c == CompressionNone || c == "" {
			return nil, err
		}
		return nil, &CompressionError{Compression: c, Err: err}
	}
	return data, nil
}
