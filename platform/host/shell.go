package host

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/adbtoolkit/agent/api"
)

// Shell executes commands through the host shell. Settings are backed by
// an in-memory map: hosts have no platform settings database.
type Shell struct {
	shell    string
	settings map[string]string
}

// NewShell creates the provider using /bin/sh (or $SHELL when set).
func NewShell() *Shell {
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/sh"
	}
	return &Shell{shell: sh, settings: make(map[string]string)}
}

// Exec runs cmd until it finishes or the context ends, capturing stdout,
// stderr, and the exit code.
func (s *Shell) Exec(ctx context.Context, cmd string) (*api.ExecResult, error) {
	c := exec.CommandContext(ctx, s.shell, "-c", cmd)
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &api.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// Stream runs cmd and returns combined output as it is produced. Closing
// the reader kills the command.
func (s *Shell) Stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	c := exec.CommandContext(ctx, s.shell, "-c", cmd)
	pr, pw := io.Pipe()
	c.Stdout = pw
	c.Stderr = pw
	if err := c.Start(); err != nil {
		pw.Close()
		return nil, err
	}
	go func() {
		pw.CloseWithError(c.Wait())
	}()
	return pr, nil
}

// GetProp maps platform properties onto host environment variables.
func (s *Shell) GetProp(name string) (string, error) {
	return os.Getenv(name), nil
}

// GetSetting reads a namespaced setting.
func (s *Shell) GetSetting(namespace, key string) (string, error) {
	return s.settings[namespace+"/"+key], nil
}

// PutSetting writes a namespaced setting.
func (s *Shell) PutSetting(namespace, key, value string) error {
	s.settings[namespace+"/"+key] = value
	return nil
}
