// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package descriptor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("assigns ports in channel order", func(t *testing.T) {
		d, err := New("127.0.0.1", []int{5001, 5002, 5003, 5004, 5005})
		require.NoError(t, err)

		assert.Equal(t, 5001, d.ShellPort)
		assert.Equal(t, 5002, d.IOPubPort)
		assert.Equal(t, 5003, d.StdinPort)
		assert.Equal(t, 5004, d.ControlPort)
		assert.Equal(t, 5005, d.HBPort)
		assert.Equal(t, "tcp", d.Transport)
		assert.Equal(t, "hmac-sha256", d.SignatureScheme)
		assert.Empty(t, d.Key)
		assert.Equal(t, []int{5001, 5002, 5003, 5004, 5005}, d.Ports())
	})

	t.Run("applies key option", func(t *testing.T) {
		d, err := New("127.0.0.1", []int{1, 2, 3, 4, 5}, WithKey("abc"))
		require.NoError(t, err)
		assert.Equal(t, "abc", d.Key)
	})

	tests := []struct {
		name  string
		ip    string
		ports []int
	}{
		{"duplicate port", "127.0.0.1", []int{5001, 5002, 5001, 5004, 5005}},
		{"too few ports", "127.0.0.1", []int{5001, 5002}},
		{"too many ports", "127.0.0.1", []int{1, 2, 3, 4, 5, 6}},
		{"zero port", "127.0.0.1", []int{0, 2, 3, 4, 5}},
		{"port above range", "127.0.0.1", []int{70000, 2, 3, 4, 5}},
		{"empty ip", "", []int{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ip, tt.ports)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	d, err := New("127.0.0.1", []int{41001, 41002, 41003, 41004, 41005})
	require.NoError(t, err)

	path, err := Write(dir, d)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Len(t, fields, 9)
	assert.Equal(t, float64(41001), fields["shell_port"])
	assert.Equal(t, float64(41005), fields["hb_port"])
	assert.Equal(t, "127.0.0.1", fields["ip"])
	assert.Equal(t, "", fields["key"])
	assert.Equal(t, "tcp", fields["transport"])
	assert.Equal(t, "hmac-sha256", fields["signature_scheme"])

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestWrite_MissingDirectory(t *testing.T) {
	d, err := New("127.0.0.1", []int{1, 2, 3, 4, 5})
	require.NoError(t, err)

	_, err = Write(filepath.Join(t.TempDir(), "gone"), d)
	assert.Error(t, err)
}

func TestRead_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Read(path)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}
