package procmon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// ProcessLister reports which executables are currently running, keyed by
// normalized executable base name.
type ProcessLister interface {
	Running(ctx context.Context) (map[string]bool, error)
}

// ProcessListerFunc adapts a function to ProcessLister.
type ProcessListerFunc func(ctx context.Context) (map[string]bool, error)

// Running calls f.
func (f ProcessListerFunc) Running(ctx context.Context) (map[string]bool, error) {
	return f(ctx)
}

// PSLister lists processes with ps(1).
type PSLister struct {
	// Command overrides the ps invocation; tests point it at a fixture.
	Command []string
}

var defaultPSCommand = []string{"ps", "-axo", "comm="}

// Running runs ps and parses one command per line.
func (l PSLister) Running(ctx context.Context) (map[string]bool, error) {
	argv := l.Command
	if len(argv) == 0 {
		argv = defaultPSCommand
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("procmon: running %s: %w", argv[0], err)
	}

	return parseProcessList(out), nil
}

// parseProcessList extracts normalized base names from ps output. Full paths
// reduce to their last element.
func parseProcessList(out []byte) map[string]bool {
	running := make(map[string]bool)

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		running[normalizeProcess(filepath.Base(string(line)))] = true
	}

	return running
}
