package main

import (
	"context"
	"flag"
	"os"

	"github.com/srinu427/bloda"
)

const decompressHelp = `bloda decompress -i <input_archive.bda> -o <output_dir> [-flags]

Restore the full directory tree from an archive. The output directory is
created if not present.

Example:
  % bloda decompress -i photos.bda -o ./photos
`

func decompress(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("decompress", flag.ExitOnError)
	var (
		input  = fset.String("i", "", "input archive (expecting a .bda file)")
		output = fset.String("o", "", "output directory, created if not present")
		_      = fset.Int("t", 1, "accepted for compatibility; block reads are sequential")
	)
	fset.Usage = usage(fset, decompressHelp)
	fset.Parse(args)
	if *input == "" || *output == "" {
		fset.Usage()
		os.Exit(2)
	}

	return bloda.DecompressArchive(*input, *output)
}
