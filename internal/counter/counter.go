// Package counter counts occurrences of a single byte in files.
//
// Large files are split into contiguous chunks that are counted
// concurrently, each chunk reading through its own file handle.
package counter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
)

const readBufferSize = 32 * 1024

// ErrNotRegularFile is returned when the path is not a regular file
var ErrNotRegularFile = errors.New("not a regular file")

// Counter counts a character in a file using a fixed number of workers
type Counter struct {
	workers int
}

// New creates a counter. A non-positive workers value uses one worker per
// CPU minus one, the same split the chcount CLI uses.
func New(workers int) *Counter {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Counter{workers: workers}
}

// DefaultWorkers returns the worker count used when none is configured
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Workers returns the configured worker count
func (c *Counter) Workers() int {
	return c.workers
}

// Count returns the number of bytes equal to ch in the file at path
func (c *Counter) Count(ctx context.Context, path string, ch byte) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%q: %w", path, ErrNotRegularFile)
	}

	size := info.Size()
	workers := int64(c.workers)

	// Single worker or file too small to split
	if workers <= 1 || size <= workers {
		return countChunk(ctx, path, 0, size, ch)
	}

	chunk := size / workers
	leftover := size % workers

	type chunkResult struct {
		count uint64
		err   error
	}

	results := make(chan chunkResult, workers)
	for i := int64(0); i < workers; i++ {
		length := chunk
		if i == workers-1 {
			length += leftover
		}
		go func(start, length int64) {
			n, err := countChunk(ctx, path, start, length, ch)
			results <- chunkResult{count: n, err: err}
		}(i*chunk, length)
	}

	var total uint64
	var firstErr error
	for i := int64(0); i < workers; i++ {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		total += r.count
	}

	if firstErr != nil {
		return 0, firstErr
	}
	return total, nil
}

// CountReader counts bytes equal to ch in r until EOF
func CountReader(r io.Reader, ch byte) (uint64, error) {
	return countReader(context.Background(), r, ch)
}

func countChunk(ctx context.Context, path string, start, length int64, ch byte) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	return countReader(ctx, io.NewSectionReader(f, start, length), ch)
}

func countReader(ctx context.Context, r io.Reader, ch byte) (uint64, error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	buf := make([]byte, readBufferSize)
	sep := []byte{ch}

	var total uint64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, err := br.Read(buf)
		total += uint64(bytes.Count(buf[:n], sep))

		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read: %w", err)
		}
	}
}
