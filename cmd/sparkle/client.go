package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/daemon"
	"github.com/sparkle-tasks/sparkle/internal/gitops"
)

// errDaemonUnreachable maps to exit code 2: the daemon could not be
// reached even after a launch attempt.
var errDaemonUnreachable = errors.New("sparkle daemon unreachable after launch attempts")

// spawnWait bounds how long a command waits for a freshly launched
// daemon to come up.
const spawnWait = 10 * time.Second

// client talks to one daemon over HTTP.
type client struct {
	base string
	http *http.Client
}

// apiError carries the daemon's message and reason for CLI display.
type apiError struct {
	Message string
	Reason  string
	Status  int
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned HTTP %d", e.Status)
}

// projectContext locates the host repo and its sparkle configuration.
func projectContext(ctx context.Context) (repoRoot string, project *config.Project, err error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	repoRoot, err = gitops.RepoRoot(ctx, cwd)
	if err != nil {
		return "", nil, err
	}
	project, err = config.LoadProject(repoRoot)
	if err != nil {
		return repoRoot, nil, err
	}
	return repoRoot, project, nil
}

// ensureDaemon returns a client for a running daemon, launching one
// detached when none answers.
func ensureDaemon(ctx context.Context) (*client, error) {
	repoRoot, project, err := projectContext(ctx)
	if err != nil {
		return nil, err
	}
	dataDir := project.DataDir(repoRoot)

	if port := config.ReadPortFile(dataDir); port != 0 && daemon.ProbeDaemon(port) {
		return newClient(port), nil
	}

	if err := spawnDaemon(repoRoot); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(spawnWait)
	for time.Now().Before(deadline) {
		if port := config.ReadPortFile(dataDir); port != 0 && daemon.ProbeDaemon(port) {
			return newClient(port), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, errDaemonUnreachable
}

func newClient(port int) *client {
	return &client{
		base: fmt.Sprintf("http://127.0.0.1:%d", port),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// spawnDaemon starts `sparkle daemon` detached from this process.
func spawnDaemon(repoRoot string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own binary: %w", err)
	}
	cmd := exec.Command(exe, "daemon", "--timeout-mode", "api", "--no-browser")
	cmd.Dir = repoRoot
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching daemon: %w", err)
	}
	// Detach: the daemon outlives this CLI invocation.
	return cmd.Process.Release()
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *client) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		var body struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
			apiErr.Reason = body.Reason
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
