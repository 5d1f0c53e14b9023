// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the stderr forwarder.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// helperArgs re-executes the test binary into TestHelperProcess.
func helperArgs(mode string) []string {
	return []string{"-test.run=TestHelperProcess", "--", mode}
}

func helperSpec(role, mode string) Spec {
	return Spec{
		Role: role,
		Path: os.Args[0],
		Args: helperArgs(mode),
		Env:  []string{"GO_WANT_HELPER_PROCESS=1"},
	}
}

// TestHelperProcess is not a real test. It is the body of the children
// spawned by the tests in this file.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	mode, rest := args[1], args[2:]

	switch mode {
	case "echo":
		fmt.Println("hello")
		fmt.Fprintln(os.Stderr, "something went sideways")
		fmt.Fprint(os.Stderr, "no newline")
	case "exit3":
		os.Exit(3)
	case "sleep":
		time.Sleep(time.Minute)
	case "args":
		out, _ := json.Marshal(map[string]any{
			"args": rest,
			"env":  os.Getenv("KERNEL_CONNECTION_FILE"),
		})
		fmt.Println(string(out))
	}
	os.Exit(0)
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("%s did not exit", h.Role())
	}
}

func TestLaunch_CapturesStreams(t *testing.T) {
	errOut := &syncBuffer{}
	o := NewOrchestrator(nil, WithErrorWriter(errOut))

	h, err := o.Launch(context.Background(), helperSpec("echo", "echo"))
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	out, err := io.ReadAll(h.Stdout())
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, "hello\n", string(out))
	assert.Equal(t, 0, h.ExitCode())
	assert.NoError(t, h.Err())
	assert.Contains(t, errOut.String(), "[echo] something went sideways\n")
	assert.Contains(t, errOut.String(), "[echo] no newline\n")
}

func TestLaunch_ExitCode(t *testing.T) {
	o := NewOrchestrator(nil, WithErrorWriter(io.Discard))

	h, err := o.Launch(context.Background(), helperSpec("failing", "exit3"))
	require.NoError(t, err)

	_, _ = io.Copy(io.Discard, h.Stdout())
	waitDone(t, h)
	assert.Equal(t, 3, h.ExitCode())
}

func TestWithWaitDelay(t *testing.T) {
	t.Run("applied to launched command", func(t *testing.T) {
		o := NewOrchestrator(nil, WithErrorWriter(io.Discard), WithWaitDelay(750*time.Millisecond))

		h, err := o.Launch(context.Background(), helperSpec("failing", "exit3"))
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, h.Stdout())
		waitDone(t, h)

		assert.Equal(t, 750*time.Millisecond, h.cmd.WaitDelay)
	})

	t.Run("non-positive keeps default", func(t *testing.T) {
		o := NewOrchestrator(nil, WithWaitDelay(0))
		assert.Equal(t, DefaultWaitDelay, o.waitDelay)
	})
}

func TestLaunch_SpawnFailure(t *testing.T) {
	o := NewOrchestrator(nil)

	tests := []struct {
		name string
		path string
	}{
		{"missing absolute path", filepath.Join(t.TempDir(), "no-such-binary")},
		{"missing from PATH", "sidecarprobe-definitely-not-installed"},
		{"empty path", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := o.Launch(context.Background(), Spec{Role: "kernel", Path: tt.path})
			assert.Nil(t, h)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSpawn)

			var se *SpawnError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "kernel", se.Role)
		})
	}
}

func TestKill(t *testing.T) {
	o := NewOrchestrator(nil, WithErrorWriter(io.Discard))

	h, err := o.Launch(context.Background(), helperSpec("sleeper", "sleep"))
	require.NoError(t, err)
	assert.Equal(t, -1, h.ExitCode())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, h.Kill(ctx))
	waitDone(t, h)
	assert.Equal(t, -1, h.ExitCode(), "signalled child has no exit status")

	// Second kill and kill after exit are no-ops.
	assert.NoError(t, h.Kill(ctx))
}

func TestKill_AfterExit(t *testing.T) {
	o := NewOrchestrator(nil, WithErrorWriter(io.Discard))

	h, err := o.Launch(context.Background(), helperSpec("quick", "exit3"))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, h.Stdout())
	waitDone(t, h)

	assert.NoError(t, h.Kill(context.Background()))
	assert.Equal(t, 3, h.ExitCode())
}

func TestPairSpecs(t *testing.T) {
	p := PairSpec{
		KernelPath:     "/opt/kernel",
		KernelArgs:     []string{"--quiet"},
		ConnectionEnv:  "KERNEL_CONNECTION_FILE",
		SidecarPath:    "/opt/sidecar",
		SidecarArgs:    []string{"--log=debug"},
		DescriptorPath: "/tmp/x/kernel-connection.json",
		BindAddress:    "127.0.0.1",
		SessionMode:    "console",
		Timeout:        2500 * time.Millisecond,
		Dir:            "/tmp/x",
	}

	k := KernelSpec(p)
	assert.Equal(t, RoleKernel, k.Role)
	assert.Equal(t, "/opt/kernel", k.Path)
	assert.Equal(t, []string{"--quiet", "--connection_file", "/tmp/x/kernel-connection.json", "--session-mode", "console"}, k.Args)
	assert.Equal(t, []string{"KERNEL_CONNECTION_FILE=/tmp/x/kernel-connection.json"}, k.Env)
	assert.Equal(t, "/tmp/x", k.Dir)

	s := SidecarSpec(p)
	assert.Equal(t, RoleSidecar, s.Role)
	assert.Equal(t, []string{"--log=debug", "--connection-file", "/tmp/x/kernel-connection.json", "--ip", "127.0.0.1", "--timeout-ms", "2500"}, s.Args)

	// Building specs must not alias the caller's slices.
	k.Args[0] = "changed"
	assert.Equal(t, "--quiet", p.KernelArgs[0])
}

func TestLaunchPair(t *testing.T) {
	dir := t.TempDir()
	o := NewOrchestrator(nil, WithErrorWriter(io.Discard))

	p := PairSpec{
		KernelPath:     os.Args[0],
		KernelArgs:     helperArgs("sleep"),
		KernelEnv:      []string{"GO_WANT_HELPER_PROCESS=1"},
		ConnectionEnv:  "KERNEL_CONNECTION_FILE",
		SidecarPath:    os.Args[0],
		SidecarArgs:    helperArgs("args"),
		SidecarEnv:     []string{"GO_WANT_HELPER_PROCESS=1"},
		DescriptorPath: filepath.Join(dir, "kernel-connection.json"),
		BindAddress:    "127.0.0.1",
		SessionMode:    "console",
		Timeout:        time.Second,
		Dir:            dir,
	}

	kernel, sidecar, err := o.LaunchPair(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, kernel)
	require.NotNil(t, sidecar)
	defer func() { _ = kernel.Kill(context.Background()) }()

	out, err := io.ReadAll(sidecar.Stdout())
	require.NoError(t, err)
	waitDone(t, sidecar)

	var got struct {
		Args []string `json:"args"`
		Env  string   `json:"env"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out), &got))
	assert.Equal(t, "--connection-file "+p.DescriptorPath+" --ip 127.0.0.1 --timeout-ms 1000", strings.Join(got.Args, " "))
	assert.Empty(t, got.Env, "sidecar does not get the kernel's connection variable")
}

func TestLaunchPair_SidecarSpawnFailureReturnsKernel(t *testing.T) {
	o := NewOrchestrator(nil, WithErrorWriter(io.Discard))

	p := PairSpec{
		KernelPath:  os.Args[0],
		KernelArgs:  helperArgs("sleep"),
		KernelEnv:   []string{"GO_WANT_HELPER_PROCESS=1"},
		SidecarPath: filepath.Join(t.TempDir(), "missing-sidecar"),
		Timeout:     time.Second,
	}

	kernel, sidecar, err := o.LaunchPair(context.Background(), p)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Nil(t, sidecar)
	require.NotNil(t, kernel)
	require.NoError(t, kernel.Kill(context.Background()))
}
