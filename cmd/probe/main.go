// Command probe samples the head of a UN SDG export and prints what a run
// would see, or a starter pipeline config for cmd/sdg.
//
// Usage:
//
//	probe -path data/SDG.csv                 # summary: dimensions, indicators, allow-list hits
//	probe -path data/SDG.csv -json -name sdg # starter config on stdout
//
// Only the first -bytes of the file are read; the last partial line is
// discarded.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sdgetl/internal/config"
	"sdgetl/internal/probe"
)

// probeFn is the seam tests replace.
var probeFn = probe.Probe

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		path       = fs.String("path", "", "path of the UN SDG export")
		maxBytes   = fs.Int("bytes", probe.DefaultMaxBytes, "number of bytes to sample from the start of the file")
		name       = fs.String("name", "", "job name for the emitted config; defaults to the file name")
		encoding   = fs.String("encoding", "", "source encoding: utf-8|utf-16|latin1|windows-1252")
		indicators = fs.String("indicators", "", "comma-separated indicator allow-list; defaults to the built-in list")
		asJSON     = fs.Bool("json", false, "print a starter pipeline config instead of the summary")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(stderr, "missing -path")
		return 2
	}

	var parserOpts config.Options
	if e := strings.TrimSpace(*encoding); e != "" {
		parserOpts = config.Options{"encoding": e}
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	res, err := probeFn(ctx, probe.Options{
		Path:       *path,
		MaxBytes:   *maxBytes,
		Parser:     parserOpts,
		Indicators: splitList(*indicators),
		Name:       *name,
		OutputJSON: *asJSON,
	})
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}
	if _, err := stdout.Write(res.Body); err != nil {
		fmt.Fprintf(stderr, "write: %v\n", err)
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
