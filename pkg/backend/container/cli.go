// Package container implements backend.ContainerRuntime by driving a
// docker-compatible command line client.
package container

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/provisioner/pkg/backend"
)

var _ backend.ContainerRuntime = (*CLI)(nil)

// maxProgressLine bounds one line of pull output.
const maxProgressLine = 1024 * 1024

// CLI runs containers through the docker or podman executable.
type CLI struct {
	// Binary is the executable name or path. Defaults to "docker".
	Binary string

	Logger zerolog.Logger
}

// New creates a CLI for binary.
func New(binary string, logger zerolog.Logger) *CLI {
	return &CLI{Binary: binary, Logger: logger.With().Str("component", "container").Logger()}
}

func (c *CLI) binary() string {
	if c.Binary == "" {
		return "docker"
	}
	return c.Binary
}

// Available reports whether the executable can be found.
func (c *CLI) Available() bool {
	_, err := exec.LookPath(c.binary())
	return err == nil
}

// result is the outcome of one invocation of the executable.
type result struct {
	stdout   string
	stderr   string
	exitCode int
}

// run executes the binary with args. A non-zero exit code is not an error;
// failing to start the process is.
func (c *CLI) run(ctx context.Context, args ...string) (*result, error) {
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &result{stdout: stdout.String(), stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", c.binary(), err)
		}
		res.exitCode = exitErr.ExitCode()
	}

	c.Logger.Debug().
		Strs("args", args).
		Int("exit_code", res.exitCode).
		Dur("duration", time.Since(start)).
		Msg("Container command finished")
	return res, nil
}

// HasImage implements backend.ContainerRuntime.
func (c *CLI) HasImage(ctx context.Context, image string) (bool, error) {
	res, err := c.run(ctx, "image", "inspect", "--format", "{{.Id}}", image)
	if err != nil {
		return false, err
	}
	return res.exitCode == 0, nil
}

// Pull implements backend.ContainerRuntime.
func (c *CLI) Pull(ctx context.Context, image string, progress func(string)) error {
	cmd := exec.CommandContext(ctx, c.binary(), "pull", image)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to execute %s: %w", c.binary(), err)
	}
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxProgressLine)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && progress != nil {
			progress(line)
		}
	}
	// the child blocks on a full pipe if scanning stopped early
	_, _ = io.Copy(io.Discard, out)
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("failed to pull %s: %s", image, firstLine(stderr.String(), err.Error()))
	}
	return nil
}

// RunRemove implements backend.ContainerRuntime. Only standard output is
// returned; standard error is logged.
func (c *CLI) RunRemove(ctx context.Context, image string, cmd []string) (string, int, error) {
	args := append([]string{"run", "--rm", image}, cmd...)
	res, err := c.run(ctx, args...)
	if err != nil {
		return "", 0, err
	}
	if res.exitCode != 0 && res.stderr != "" {
		c.Logger.Debug().Str("image", image).Str("stderr", res.stderr).Msg("Container exited with error")
	}
	return res.stdout, res.exitCode, nil
}

// ImageCmd implements backend.ContainerRuntime.
func (c *CLI) ImageCmd(ctx context.Context, image string) ([]string, error) {
	res, err := c.run(ctx, "image", "inspect", "--format", "{{json .Config.Cmd}}", image)
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, fmt.Errorf("failed to inspect %s: %s", image, firstLine(res.stderr, "unknown error"))
	}
	var cmd []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.stdout)), &cmd); err != nil {
		return nil, fmt.Errorf("failed to parse command of %s: %w", image, err)
	}
	return cmd, nil
}

// FindByLabel implements backend.ContainerRuntime.
func (c *CLI) FindByLabel(ctx context.Context, label string) (string, error) {
	res, err := c.run(ctx, "ps", "--filter", "label="+label, "--format", "{{.ID}}")
	if err != nil {
		return "", err
	}
	if res.exitCode != 0 {
		return "", fmt.Errorf("failed to list containers: %s", firstLine(res.stderr, "unknown error"))
	}
	return firstLine(res.stdout, ""), nil
}

// Exec implements backend.ContainerRuntime.
func (c *CLI) Exec(ctx context.Context, container string, cmd []string) (string, int, error) {
	args := append([]string{"exec", container}, cmd...)
	res, err := c.run(ctx, args...)
	if err != nil {
		return "", 0, err
	}
	if res.exitCode != 0 && res.stderr != "" {
		c.Logger.Debug().Str("container", container).Str("stderr", res.stderr).Msg("Exec exited with error")
	}
	return res.stdout, res.exitCode, nil
}

func firstLine(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	line, _, _ := strings.Cut(s, "\n")
	return line
}
