// Package sandbox provides isolated, stateful code execution sessions for
// reasoning tools. A session keeps interpreter or container state alive across
// calls; the manager serializes calls per session and can fork a session by
// replaying its history into a fresh one.
package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Result captures the output of one execution.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Backend is a sandbox implementation: it owns the per-session execution
// state. Backends do not serialize calls; the Manager does.
type Backend interface {
	// Create initializes the execution state for a session.
	Create(ctx context.Context, id string) error
	// Exec runs a code payload inside the session. State mutations persist
	// for later Exec calls on the same id.
	Exec(ctx context.Context, id, code string) (Result, error)
	// Remove tears down a session's execution state.
	Remove(ctx context.Context, id string) error
	// Close tears down all sessions and the backend itself.
	Close() error
}

// Mode selects the sandbox backend.
type Mode string

const (
	// ModeYaegi interprets Go snippets in-process with persistent bindings.
	ModeYaegi Mode = "yaegi"
	// ModeDocker runs shell payloads in a locked-down long-lived container
	// per session.
	ModeDocker Mode = "docker"
)

// Config holds sandbox configuration.
type Config struct {
	Mode        Mode
	DockerImage string        // Docker image for ModeDocker
	CPU         string        // CPU limit (e.g., "2")
	Memory      string        // Memory limit (e.g., "1g")
	ExecTimeout time.Duration // Per-call timeout (0 = default)
}

const defaultExecTimeout = 30 * time.Second

// DefaultConfig reads the sandbox configuration from environment variables.
func DefaultConfig() Config {
	modeStr := strings.ToLower(os.Getenv("PONDER_SANDBOX_MODE"))
	var mode Mode
	switch modeStr {
	case "docker":
		mode = ModeDocker
	case "yaegi", "":
		mode = ModeYaegi
	default:
		log.Printf("WARNING: unknown PONDER_SANDBOX_MODE value %q, defaulting to yaegi", modeStr)
		mode = ModeYaegi
	}

	execTimeout := defaultExecTimeout
	if timeoutStr := os.Getenv("PONDER_EXEC_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			execTimeout = d
		} else {
			log.Printf("WARNING: invalid PONDER_EXEC_TIMEOUT value %q, using default %s", timeoutStr, defaultExecTimeout)
		}
	}

	return Config{
		Mode:        mode,
		DockerImage: getEnvOrDefault("PONDER_DOCKER_IMAGE", "alpine:3.20"),
		CPU:         getEnvOrDefault("PONDER_DOCKER_CPU", "2"),
		Memory:      getEnvOrDefault("PONDER_DOCKER_MEMORY", "512m"),
		ExecTimeout: execTimeout,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// NewBackend creates the backend named by the configuration.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Mode {
	case ModeYaegi:
		return NewYaegiBackend(cfg), nil
	case ModeDocker:
		return NewDockerBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", cfg.Mode)
	}
}
