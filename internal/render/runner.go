// Package render turns page descriptions into PDF bytes. Two backends exist:
// a native in-process path and an external Inkscape path, selected through
// the capability probe.
package render

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandRunner abstracts external process execution so the probe and the
// external renderer can be tested without real subprocesses.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
