package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// RunSpec describes one container invocation run to completion.
type RunSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Env     []string
	Binds   []string
	Workdir string
}

// RunToCompletion creates a fresh container from the spec, starts it, streams
// demuxed stdout/stderr lines to onOutput, waits until it stops, removes it
// and returns the exit code. Every call produces an independent container
// instance; writable-layer state never survives past the return.
func (c *Client) RunToCompletion(ctx context.Context, spec RunSpec, onOutput OutputCallback) (int64, error) {
	if c == nil || c.inner == nil {
		return 0, fmt.Errorf("docker client not initialized")
	}
	if strings.TrimSpace(spec.Name) == "" {
		return 0, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return 0, fmt.Errorf("image name cannot be empty")
	}

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.Workdir,
	}
	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
	}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return 0, fmt.Errorf("container create: %w", err)
	}
	defer func() {
		// Removal uses a fresh context so teardown still happens on cancellation.
		if err := c.RemoveContainer(context.WithoutCancel(ctx), created.ID); err != nil && onOutput != nil {
			onOutput(fmt.Sprintf("container cleanup failed: %v", err))
		}
	}()

	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("container start: %w", err)
	}

	logs, err := c.inner.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return 0, fmt.Errorf("container logs: %w", err)
	}
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		defer logs.Close()
		streamLines(logs, onOutput)
	}()

	exitCode, err := c.WaitForStop(ctx, created.ID)
	<-streamDone
	if err != nil {
		return 0, err
	}
	return exitCode, nil
}

// WaitForStop blocks until the container stops and returns the exit code.
func (c *Client) WaitForStop(ctx context.Context, containerID string) (int64, error) {
	if strings.TrimSpace(containerID) == "" {
		return 0, fmt.Errorf("container id cannot be empty")
	}
	statusCh, errCh := c.inner.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	for {
		select {
		case err := <-errCh:
			if err == nil {
				continue
			}
			if client.IsErrNotFound(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("wait for container stop: %w", err)
		case status := <-statusCh:
			return status.StatusCode, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// RemoveContainer removes an existing container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func streamLines(logs io.Reader, onOutput OutputCallback) {
	if onOutput == nil {
		_, _ = io.Copy(io.Discard, logs)
		return
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, logs)
		_ = pw.CloseWithError(err)
	}()
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			onOutput(line)
		}
	}
}
