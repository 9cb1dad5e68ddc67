// Package codec provides streaming compression and decompression over the
// fixed set of codecs an archive may use. Both directions operate as plain
// io.Copy pipelines; neither materializes the full input.
package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Codec labels as they appear in archive indexes.
const (
	LZMA = "LZMA"
	LZ4  = "LZ4"
	ZSTD = "ZSTD"
	None = "NONE"
)

const (
	// zstd numeric level used for encoding.
	zstdLevel = 6

	// lzmaDictCap is the dictionary capacity of LZMA preset 9 (64 MiB).
	lzmaDictCap = 64 << 20
)

// Supported reports whether label names a known codec.
func Supported(label string) bool {
	switch label {
	case LZMA, LZ4, ZSTD, None:
		return true
	}
	return false
}

// UnknownCodecError reports a codec label outside the supported set.
type UnknownCodecError struct {
	Label string
}

func (e *UnknownCodecError) Error() string {
	return fmt.Sprintf("unknown codec %q", e.Label)
}

// CodecError wraps a failure of the underlying compression library.
type CodecError struct {
	Stage string // "init", "transform" or "finalize"
	Codec string
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s: at %s: %v", e.Codec, e.Stage, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Compress copies src through the named codec into dst and returns the
// number of compressed bytes written to dst.
func Compress(dst io.Writer, src io.Reader, label string) (int64, error) {
	cw := &countingWriter{w: dst}

	if label == None {
		_, err := io.Copy(cw, src)
		return cw.n, err
	}

	var (
		enc io.WriteCloser
		err error
	)
	switch label {
	case ZSTD:
		enc, err = zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
	case LZ4:
		enc = lz4.NewWriter(cw)
	case LZMA:
		enc, err = lzma.WriterConfig{DictCap: lzmaDictCap}.NewWriter(cw)
	default:
		return 0, &UnknownCodecError{Label: label}
	}
	if err != nil {
		return 0, &CodecError{Stage: "init", Codec: label, Err: err}
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return cw.n, &CodecError{Stage: "transform", Codec: label, Err: err}
	}
	if err := enc.Close(); err != nil {
		return cw.n, &CodecError{Stage: "finalize", Codec: label, Err: err}
	}
	return cw.n, nil
}

// Decompress copies src through the named codec into dst and returns the
// number of decompressed bytes written to dst.
func Decompress(dst io.Writer, src io.Reader, label string) (int64, error) {
	cw := &countingWriter{w: dst}

	if label == None {
		_, err := io.Copy(cw, src)
		return cw.n, err
	}

	var dec io.Reader
	switch label {
	case ZSTD:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return 0, &CodecError{Stage: "init", Codec: label, Err: err}
		}
		defer zr.Close()
		dec = zr
	case LZ4:
		dec = lz4.NewReader(src)
	case LZMA:
		lr, err := lzma.ReaderConfig{DictCap: lzmaDictCap}.NewReader(src)
		if err != nil {
			return 0, &CodecError{Stage: "init", Codec: label, Err: err}
		}
		dec = lr
	default:
		return 0, &UnknownCodecError{Label: label}
	}
	if _, err := io.Copy(cw, dec); err != nil {
		return cw.n, &CodecError{Stage: "transform", Codec: label, Err: err}
	}
	return cw.n, nil
}
