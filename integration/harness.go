//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shrike-backup/shrike/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the shrike binary once and runs it against an isolated
// config, store and destination under a temp dir.
type Harness struct {
	t          *testing.T
	binary     string
	dir        string
	configPath string
	storePath  string
	listenAddr string
	serve      *exec.Cmd
}

// NewHarness builds the binary and writes a config pointing at fresh paths
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()
	testutil.RequireRsync(t)

	dir := testutil.CanonicalTempDir(t)
	h := &Harness{
		t:          t,
		binary:     filepath.Join(dir, "bin", "shrike"),
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		storePath:  filepath.Join(dir, "data", "shrike_data.json"),
		listenAddr: freeAddr(t),
	}

	if err := h.build(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	config := fmt.Sprintf("store:\n  path: %q\nserve:\n  listen_addr: %q\n", h.storePath, h.listenAddr)
	if err := os.WriteFile(h.configPath, []byte(config), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Cleanup(h.stopServe)
	return h
}

func (h *Harness) build(ctx context.Context) error {
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/shrike")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Dir returns the harness root directory
func (h *Harness) Dir() string {
	return h.dir
}

// Run executes the binary with args and returns stdout, stderr and exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	full := append([]string{"--config", h.configPath, "--log-level", "debug"}, args...)
	cmd := exec.CommandContext(ctx, h.binary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test on a non-zero exit
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// StartServe launches "shrike serve" in the background and waits for the port
func (h *Harness) StartServe(ctx context.Context) {
	h.t.Helper()

	h.serve = exec.CommandContext(ctx, h.binary, "--config", h.configPath, "serve")
	h.serve.Stdout = &testWriter{t: h.t, prefix: "[serve] "}
	h.serve.Stderr = &testWriter{t: h.t, prefix: "[serve] "}
	if err := h.serve.Start(); err != nil {
		h.t.Fatalf("start serve: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", h.listenAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	h.t.Fatalf("serve did not listen on %s", h.listenAddr)
}

func (h *Harness) stopServe() {
	if h.serve == nil || h.serve.Process == nil {
		return
	}
	_ = h.serve.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = h.serve.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		_ = h.serve.Process.Kill()
		<-done
	}
}

// Request sends an HTTP request to the running gateway and decodes a JSON body
func (h *Harness) Request(ctx context.Context, method, path, token string) (int, map[string]any) {
	h.t.Helper()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+h.listenAddr+path, nil)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, body
}

// Token reads the webhook token persisted in the store
func (h *Harness) Token(ctx context.Context) string {
	h.t.Helper()
	var settings struct {
		WebhookToken string `json:"webhook_token"`
	}
	out := h.MustRun(ctx, "settings", "show", "--json", "--show-token")
	if err := json.Unmarshal([]byte(out), &settings); err != nil {
		h.t.Fatalf("parse settings: %v", err)
	}
	return settings.WebhookToken
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
