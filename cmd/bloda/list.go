package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/srinu427/bloda"
)

const listHelp = `bloda list -i <input_archive.bda> [-flags]

List archive entries: all of them, those matching a regular expression, or
the children of one directory.

Example:
  % bloda list -i photos.bda
  % bloda list -i photos.bda -re '\.jpg$'
  % bloda list -i photos.bda -dir 2024/summer
`

func list(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	var (
		input   = fset.String("i", "", "input archive (expecting a .bda file)")
		pattern = fset.String("re", "", "only list entries matching this regular expression")
		dir     = fset.String("dir", "", "list the children of this directory instead")
	)
	fset.Usage = usage(fset, listHelp)
	fset.Parse(args)
	if *input == "" {
		fset.Usage()
		os.Exit(2)
	}

	rd, err := bloda.OpenArchive(*input)
	if err != nil {
		return err
	}

	if *dir != "" {
		for _, de := range rd.ListDir(*dir) {
			fmt.Printf("%s\t%s\n", de.Type, de.Name)
		}
		return nil
	}

	var names []string
	if *pattern != "" {
		names, err = rd.ListEntriesRE(*pattern)
		if err != nil {
			return err
		}
	} else {
		names = rd.ListAllEntries()
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
