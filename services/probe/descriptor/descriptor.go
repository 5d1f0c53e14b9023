// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package descriptor builds and persists the kernel connection descriptor.
//
// The file format is the Jupyter connection file: five channel ports, the
// bind address, a signing key, and two fixed literals. Both the kernel and
// the sidecar read the same file.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the descriptor's name inside the session directory.
const FileName = "kernel-connection.json"

// Fixed literals written into every descriptor.
const (
	Transport       = "tcp"
	SignatureScheme = "hmac-sha256"
)

// PortCount is the number of channel ports a descriptor carries.
const PortCount = 5

// ErrInvalidDescriptor indicates the inputs cannot form a usable descriptor.
var ErrInvalidDescriptor = errors.New("invalid connection descriptor")

// =============================================================================
// DESCRIPTOR
// =============================================================================

// Descriptor is the connection file content.
//
// Field order is the serialized order.
type Descriptor struct {
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	IP              string `json:"ip"`
	Key             string `json:"key"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
}

// Option customises a Descriptor built by New.
type Option func(*Descriptor)

// WithKey sets the message signing key. The default is empty (unsigned).
func WithKey(key string) Option {
	return func(d *Descriptor) {
		d.Key = key
	}
}

// New builds a descriptor from five ports in channel order.
//
// Description:
//
//	ports are assigned shell, iopub, stdin, control, hb. They must be
//	pairwise distinct and inside (0, 65535].
//
// Inputs:
//
//	ip - Address every channel binds to
//	ports - Exactly PortCount ports
//	opts - Optional settings, e.g. WithKey
//
// Outputs:
//
//	Descriptor - The populated descriptor
//	error - Wraps ErrInvalidDescriptor when the inputs are unusable
func New(ip string, ports []int, opts ...Option) (Descriptor, error) {
	if ip == "" {
		return Descriptor{}, fmt.Errorf("%w: empty ip", ErrInvalidDescriptor)
	}
	if len(ports) != PortCount {
		return Descriptor{}, fmt.Errorf("%w: need %d ports, got %d", ErrInvalidDescriptor, PortCount, len(ports))
	}

	seen := make(map[int]struct{}, PortCount)
	for _, p := range ports {
		if p <= 0 || p > 65535 {
			return Descriptor{}, fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, p)
		}
		if _, dup := seen[p]; dup {
			return Descriptor{}, fmt.Errorf("%w: port %d used twice", ErrInvalidDescriptor, p)
		}
		seen[p] = struct{}{}
	}

	d := Descriptor{
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HBPort:          ports[4],
		IP:              ip,
		Transport:       Transport,
		SignatureScheme: SignatureScheme,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d, nil
}

// Ports returns the channel ports in shell, iopub, stdin, control, hb order.
func (d Descriptor) Ports() []int {
	return []int{d.ShellPort, d.IOPubPort, d.StdinPort, d.ControlPort, d.HBPort}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Write serializes d into dir/FileName and returns the full path.
//
// The file is created with mode 0600 since it may hold a signing key.
// Errors are returned unretried.
func Write(dir string, d Descriptor) (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write descriptor %s: %w", path, err)
	}
	return path, nil
}

// Read parses a descriptor file.
func Read(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, path, err)
	}
	return d, nil
}
