package bloda

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/xerrors"

	"github.com/srinu427/bloda/internal/codec"
)

// writeBlock stages one compressed block at dst and returns its compressed
// byte length.
//
// A single-member block is stream-compressed straight from its source file,
// since such a file may be arbitrarily large. A multi-member block is first
// concatenated into one in-memory buffer; the packing budget bounds that
// buffer by construction.
func writeBlock(blk []placedFile, label, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	var src io.Reader
	if len(blk) == 1 {
		in, err := os.Open(blk[0].path)
		if err != nil {
			out.Close()
			return 0, err
		}
		defer in.Close()
		src = in
	} else {
		var total int64
		for _, pf := range blk {
			total += pf.size
		}
		buf := make([]byte, total)
		for _, pf := range blk {
			in, err := os.Open(pf.path)
			if err != nil {
				out.Close()
				return 0, err
			}
			_, err = io.ReadFull(in, buf[pf.offset:pf.offset+pf.size])
			in.Close()
			if err != nil {
				out.Close()
				return 0, xerrors.Errorf("reading %s: %w", pf.path, err)
			}
		}
		src = bytes.NewReader(buf)
	}

	n, err := codec.Compress(out, src, label)
	if err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return n, nil
}
