package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/chcount/internal/counter"
)

type options struct {
	character byte
	filePath  string
	workers   int
}

func main() {
	opts, fs, err := parseOptions(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage:")
		fs.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := counter.New(opts.workers).Count(ctx, opts.filePath, opts.character)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result)
}

func parseOptions(args []string, output io.Writer) (*options, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("chcount", flag.ContinueOnError)
	fs.SetOutput(output)

	character := fs.String("c", "", "Character which we count")
	filePath := fs.String("f", "", "Path to an input file")
	workers := fs.Int("t", 0, "Counting threads (0 = CPU count minus one)")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	if *character == "" {
		return nil, fs, errors.New("Character not provided")
	}
	if len(*character) != 1 {
		return nil, fs, fmt.Errorf("Character %q must be a single byte", *character)
	}
	if *filePath == "" {
		return nil, fs, errors.New("Input file path not provided")
	}

	info, err := os.Stat(*filePath)
	if err != nil {
		return nil, fs, fmt.Errorf("Input file %q doesn't exist", *filePath)
	}
	if !info.Mode().IsRegular() {
		return nil, fs, fmt.Errorf("%q is not a regular file", *filePath)
	}

	return &options{
		character: (*character)[0],
		filePath:  *filePath,
		workers:   *workers,
	}, fs, nil
}
