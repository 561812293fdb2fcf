package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes the docker CLI. Tests substitute a fake to feed canned
// output through the text-mode parsers.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// execRunner shells out to the real docker binary.
type execRunner struct {
	bin  string
	host string
}

// NewRunner returns a Runner invoking bin (default "docker"). A non-empty
// host is passed as --host so the CLI targets the same daemon as the API
// client.
func NewRunner(bin, host string) Runner {
	if bin == "" {
		bin = "docker"
	}
	return &execRunner{bin: bin, host: host}
}

func (r *execRunner) Run(ctx context.Context, args ...string) (string, error) {
	op := "docker"
	if len(args) > 0 {
		op = args[0]
	}
	if r.host != "" {
		args = append([]string{"--host", r.host}, args...)
	}

	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("docker %s: %s", op, detail)
	}
	return stdout.String(), nil
}
