package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
)

var (
	debug      = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")
	cpuprofile = flag.String("cpuprofile", "", "path to store a CPU profile at")
	memprofile = flag.String("memprofile", "", "path to store a memory profile at")
)

// interruptibleContext returns a context which is canceled when bloda is
// interrupted (SIGINT or SIGTERM), so that an in-flight compress stops
// scheduling new blocks. A second signal terminates immediately, which is
// useful in case cleanup hangs.
func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Printf("%v received, canceling (repeat to terminate immediately)", s)
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}

func funcmain() error {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"compress":   {compress},
		"decompress": {decompress},
		"list":       {list},
		"extract":    {extract},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "syntax: bloda [-flags] <command> [-flags] <args>\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "\tcompress   - pack a directory tree into an archive\n")
		fmt.Fprintf(os.Stderr, "\tdecompress - restore the full tree from an archive\n")
		fmt.Fprintf(os.Stderr, "\tlist       - list archive entries\n")
		fmt.Fprintf(os.Stderr, "\textract    - extract selected entries\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "To get help on any command, use bloda <command> -help or bloda help <command>.\n")
		os.Exit(2)
	}
	verb, args := args[0], args[1:]

	if verb == "help" {
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "syntax: bloda help <command>\n")
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
	}

	ctx, canc := interruptibleContext()
	defer canc()

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: bloda <command> [options]\n")
		os.Exit(2)
	}
	err := v.fn(ctx, args)
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
	if err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}

	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}
