package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
)

// DockerBackend runs each session in its own long-lived, locked-down
// container. Session state (filesystem under /workspace, shell environment
// written to files) persists across Exec calls until the session is removed.
type DockerBackend struct {
	client *client.Client
	cfg    Config

	mu         sync.Mutex
	containers map[string]string // session id -> container id
}

// NewDockerBackend creates a Docker-based sandbox backend.
func NewDockerBackend(cfg Config) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	// Verify the daemon is reachable before accepting sessions.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err = cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}

	return &DockerBackend{
		client:     cli,
		cfg:        cfg,
		containers: make(map[string]string),
	}, nil
}

// Create starts the session's container.
func (b *DockerBackend) Create(ctx context.Context, id string) error {
	b.mu.Lock()
	if _, ok := b.containers[id]; ok {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.ensureImage(ctx, b.cfg.DockerImage); err != nil {
		return fmt.Errorf("failed to ensure image %s: %w", b.cfg.DockerImage, err)
	}

	containerConfig := &container.Config{
		Image:           b.cfg.DockerImage,
		Cmd:             []string{"sleep", "infinity"},
		WorkingDir:      "/workspace",
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: true,
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   parseMemory(b.cfg.Memory),
			NanoCPUs: parseCPU(b.cfg.CPU) * 1e9,
			Ulimits: []*units.Ulimit{
				{
					Name: "nofile",
					Soft: 1024,
					Hard: 1024,
				},
			},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp":       "rw,noexec,nosuid,size=100m",
			"/workspace": "rw,nosuid,size=100m",
		},
	}

	createResp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := b.client.ContainerStart(ctx, createResp.ID, container.StartOptions{}); err != nil {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.client.ContainerRemove(removeCtx, createResp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}

	b.mu.Lock()
	b.containers[id] = createResp.ID
	b.mu.Unlock()
	return nil
}

// Exec runs a shell payload inside the session's container.
func (b *DockerBackend) Exec(ctx context.Context, id, code string) (Result, error) {
	b.mu.Lock()
	containerID, ok := b.containers[id]
	b.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("sandbox session not found: %s", id)
	}

	timeout := b.cfg.ExecTimeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execResp, err := b.client.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", code},
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/workspace",
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := b.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	stdout, stderr := parseExecStream(attach.Reader)

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{
			Stdout:   stdout,
			Stderr:   "execution timed out",
			Code:     1,
			TimedOut: true,
		}, nil
	}

	inspect, err := b.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return Result{
		Stdout: stdout,
		Stderr: stderr,
		Code:   inspect.ExitCode,
	}, nil
}

// Remove kills and removes the session's container.
func (b *DockerBackend) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	containerID, ok := b.containers[id]
	delete(b.containers, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return b.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
}

// Close removes every session container.
func (b *DockerBackend) Close() error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.containers))
	for id := range b.containers {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	ctx := context.Background()
	var firstErr error
	for _, id := range ids {
		if err := b.Remove(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (b *DockerBackend) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := b.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain the pull output (required for the pull to complete).
	_, _ = io.Copy(io.Discard, reader)

	return nil
}

// parseExecStream separates stdout from stderr in a multiplexed Docker
// stream. Each frame is [STREAM_TYPE (1)][RESERVED (3)][SIZE (4, big-endian)]
// followed by the payload.
func parseExecStream(reader io.Reader) (stdout, stderr string) {
	var stdoutParts, stderrParts []string

	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(reader, header); err != nil {
			break
		}

		streamType := header[0]
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])

		if size <= 0 || size > 10*1024*1024 { // 10MB max per frame
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			break
		}

		content := strings.TrimSuffix(string(payload), "\n")

		switch streamType {
		case 1:
			stdoutParts = append(stdoutParts, content)
		case 2:
			stderrParts = append(stderrParts, content)
		}
	}

	return strings.Join(stdoutParts, "\n"), strings.Join(stderrParts, "\n")
}

// parseMemory parses a memory string (e.g., "1g", "512m") to bytes.
func parseMemory(memStr string) int64 {
	memStr = strings.ToLower(strings.TrimSpace(memStr))
	if memStr == "" {
		return 512 * 1024 * 1024
	}

	var multiplier int64 = 1
	if strings.HasSuffix(memStr, "g") {
		multiplier = 1024 * 1024 * 1024
		memStr = strings.TrimSuffix(memStr, "g")
	} else if strings.HasSuffix(memStr, "m") {
		multiplier = 1024 * 1024
		memStr = strings.TrimSuffix(memStr, "m")
	} else if strings.HasSuffix(memStr, "k") {
		multiplier = 1024
		memStr = strings.TrimSuffix(memStr, "k")
	}

	var value int64
	fmt.Sscanf(memStr, "%d", &value)
	return value * multiplier
}

// parseCPU parses a CPU string (e.g., "2") to a whole CPU count.
func parseCPU(cpuStr string) int64 {
	cpuStr = strings.TrimSpace(cpuStr)
	if cpuStr == "" {
		return 2
	}

	var value float64
	fmt.Sscanf(cpuStr, "%f", &value)
	if value <= 0 {
		return 2
	}
	return int64(value)
}
