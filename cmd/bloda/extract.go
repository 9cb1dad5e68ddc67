package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/srinu427/bloda"
)

const extractHelp = `bloda extract -i <input_archive.bda> -o <output_path> (-n <name> | -re <pattern>)

Extract selected entries without decompressing the whole archive. With -n,
one entry is written to the output path. With -re, all matching entries are
written under the output directory; entries sharing a block cost only one
block decompression.

Example:
  % bloda extract -i photos.bda -n 2024/summer/beach.jpg -o beach.jpg
  % bloda extract -i photos.bda -re '^2024/' -o ./only-2024
`

func extract(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("extract", flag.ExitOnError)
	var (
		input   = fset.String("i", "", "input archive (expecting a .bda file)")
		output  = fset.String("o", "", "output file (-n) or directory (-re)")
		name    = fset.String("n", "", "name of a single entry to extract")
		pattern = fset.String("re", "", "extract all entries matching this regular expression")
	)
	fset.Usage = usage(fset, extractHelp)
	fset.Parse(args)
	if *input == "" || *output == "" || (*name == "") == (*pattern == "") {
		fset.Usage()
		os.Exit(2)
	}

	rd, err := bloda.OpenArchive(*input)
	if err != nil {
		return err
	}

	if *name != "" {
		return rd.ExtractFile(*name, *output)
	}
	if err := os.MkdirAll(*output, 0755); err != nil {
		return fmt.Errorf("creating %s: %v", *output, err)
	}
	return rd.ExtractFiles(*pattern, *output, false)
}
