package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kfc-tools/kfc"
)

var debug = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")

func funcmain() error {
	flag.Parse()

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"unpack":        {cmdUnpack},
		"repack":        {cmdRepack},
		"extract-types": {cmdExtractTypes},
		"restore":       {cmdRestore},
		"impact":        {cmdImpact},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "kfc <command> [-flags] [args]\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "\tunpack         - render an archive's resources as JSON\n")
		fmt.Fprintf(os.Stderr, "\trepack         - write JSON descriptors back into the archive\n")
		fmt.Fprintf(os.Stderr, "\textract-types  - extract the type registry from a game executable\n")
		fmt.Fprintf(os.Stderr, "\trestore        - manage the archive's .bak safety net\n")
		fmt.Fprintf(os.Stderr, "\timpact         - assemble, disassemble, or decompile Impact scripts\n")
		os.Exit(2)
	}
	verb, args := args[0], args[1:]

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: kfc <command> [options]\n")
		os.Exit(2)
	}

	ctx, canc := kfc.InterruptibleContext()
	defer canc()
	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return kfc.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
