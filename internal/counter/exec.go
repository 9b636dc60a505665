package counter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecCounter delegates counting to an external chcount executable,
// invoked as `<path> -c <char> -f <file>` and expected to print the count.
type ExecCounter struct {
	path string
}

// NewExecCounter creates a counter backed by the executable at path
func NewExecCounter(path string) *ExecCounter {
	return &ExecCounter{path: path}
}

// Count runs the executable and parses its standard output
func (e *ExecCounter) Count(ctx context.Context, path string, ch byte) (uint64, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, e.path, "-c", string([]byte{ch}), "-f", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("chcount failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	n, err := strconv.ParseUint(strings.TrimSpace(stdout.String()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chcount output %q: %w", stdout.String(), err)
	}

	return n, nil
}
