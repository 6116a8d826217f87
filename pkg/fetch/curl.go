package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"path/filepath"
)

// CurlAgent shells out to curl. Running the transfer in a subprocess keeps
// the engine restartable: a wedged TLS stack or a leaking connection dies
// with the child, not with us.
type CurlAgent struct {
	// Path is the curl binary, "curl" by default.
	Path string
}

func NewCurlAgent(path string) *CurlAgent {
	if path == "" {
		path = "curl"
	}
	return &CurlAgent{Path: path}
}

func (a *CurlAgent) Retrieve(ctx context.Context, t Transfer) error {
	args := []string{
		"--silent",
		"--max-time", fmt.Sprintf("%d", int(math.Ceil(t.Timeout.Seconds()))),
		"--connect-timeout", fmt.Sprintf("%d", int(t.ConnectTimeout.Seconds())),
		"--fail",
		"--location",
		"--output", filepath.Base(t.Dest),
	}
	if t.Secrets != nil {
		if t.Secrets.CACert != "" {
			args = append(args, "--cacert", t.Secrets.CACert)
		}
		if t.Secrets.ClientCert != "" {
			args = append(args, "--cert", t.Secrets.ClientCert)
		}
		if t.Secrets.ClientKey != "" {
			args = append(args, "--key", t.Secrets.ClientKey)
		}
	}
	args = append(args, t.URL)

	cmd := exec.CommandContext(ctx, a.Path, args...)
	cmd.Dir = filepath.Dir(t.Dest)

	slog.Debug("invoking curl", "url", t.URL, "max_time", t.Timeout)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("run %s: %w", a.Path, err)
	}
	return nil
}
