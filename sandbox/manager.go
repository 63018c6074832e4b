// Package sandbox validates generated projects inside short-lived
// Docker containers. Each validation run mounts the project directory
// into a fresh container, runs the validation command, and removes the
// container afterwards. When no Docker daemon is reachable the manager
// degrades to a no-op so generation still works on machines without
// Docker.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// DefaultImage runs Node projects, which most generated projects are.
	DefaultImage = "node:20-slim"

	// DefaultTimeout bounds a single validation run.
	DefaultTimeout = 5 * time.Minute

	labelManagedBy = "tdev.managed-by"
)

// DefaultCommand is the validation entrypoint run inside the container.
// Projects without an install step still pass syntax checking.
var DefaultCommand = []string{"sh", "-c", "if [ -f package.json ]; then npm install --no-audit --no-fund && npm test --if-present; else find . -name '*.js' -exec node --check {} +; fi"}

// Manager runs validation containers.
type Manager struct {
	client    *client.Client
	image     string
	command   []string
	timeout   time.Duration
	available bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithImage sets the container image used for validation.
func WithImage(img string) Option {
	return func(m *Manager) {
		if img != "" {
			m.image = img
		}
	}
}

// WithCommand sets the validation command.
func WithCommand(cmd []string) Option {
	return func(m *Manager) {
		if len(cmd) > 0 {
			m.command = cmd
		}
	}
}

// WithTimeout bounds each validation run.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager connects to the Docker daemon. When no daemon is reachable
// the returned manager reports unavailable and Validate becomes a no-op.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		image:   DefaultImage,
		command: DefaultCommand,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	cli, err := connect()
	if err != nil {
		slog.Warn("docker unavailable, sandbox validation disabled", "error", err)
		return m, nil
	}
	m.client = cli
	m.available = true
	return m, nil
}

// connect tries the environment settings first, then the common socket
// locations Docker Desktop and Colima use.
func connect() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	hosts := []string{
		"unix:///var/run/docker.sock",
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock",
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",
	}
	for _, host := range hosts {
		cli, err := client.NewClientWithOpts(
			client.WithHost(host),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()
		if err == nil {
			return cli, nil
		}
		cli.Close()
	}
	return nil, fmt.Errorf("could not connect to Docker daemon")
}

// Available reports whether a Docker daemon was reachable at startup.
func (m *Manager) Available() bool {
	return m.available
}

// RunResult is the outcome of one sandboxed command.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Validate runs the validation command against the project directory.
// It satisfies the generation pipeline's validator interface. Projects
// validate clean when the command exits zero; a missing Docker daemon
// validates trivially.
func (m *Manager) Validate(ctx context.Context, dir string) error {
	if !m.available {
		slog.Debug("sandbox unavailable, skipping validation", "dir", dir)
		return nil
	}

	res, err := m.Run(ctx, dir, m.command)
	if err != nil {
		return fmt.Errorf("sandbox validation: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("sandbox validation failed (exit %d): %s",
			res.ExitCode, tail(res.Stderr+res.Stdout, 2000))
	}
	return nil
}

// Run executes a command in a fresh container with dir mounted at
// /workspace. The container is always removed, even on error.
func (m *Manager) Run(ctx context.Context, dir string, command []string) (*RunResult, error) {
	if !m.available {
		return nil, fmt.Errorf("docker not available")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.ensureImage(ctx, m.image); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", m.image, err)
	}

	cfg := &container.Config{
		Image:      m.image,
		WorkingDir: "/workspace",
		Cmd:        command,
		Labels: map[string]string{
			labelManagedBy: "tdev",
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: absDir,
				Target: "/workspace",
			},
		},
		NetworkMode: "bridge",
	}

	resp, err := m.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		if err := m.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("remove sandbox container", "container", resp.ID[:12], "error", err)
		}
	}()

	start := time.Now()
	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := m.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return nil, fmt.Errorf("sandbox run timed out after %s", m.timeout)
	}

	stdout, stderr, err := m.logs(resp.ID)
	if err != nil {
		return nil, err
	}

	return &RunResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Elapsed:  time.Since(start),
	}, nil
}

// logs collects the container's output after it has exited.
func (m *Manager) logs(id string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader, err := m.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("read container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
		return "", "", fmt.Errorf("demux container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// ensureImage pulls the image if not present locally.
func (m *Manager) ensureImage(ctx context.Context, name string) error {
	_, _, err := m.client.ImageInspectWithRaw(ctx, name)
	if err == nil {
		return nil
	}

	slog.Info("pulling sandbox image", "image", name)
	reader, err := m.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
