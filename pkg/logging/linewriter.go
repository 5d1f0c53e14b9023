// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"io"
	"sync"
)

// LineWriter forwards a byte stream to dst one complete line at a time,
// prefixing each line with a fixed tag.
//
// Description:
//
//	Used as a child process's Stderr so diagnostics from the kernel and
//	the sidecar can be told apart on the probe's own stderr. Partial lines
//	are held until their newline arrives or Flush is called.
//
// Thread Safety:
//
//	Safe for concurrent use. Several LineWriters may share one dst when
//	they share a mutex via NewLineWriterShared.
type LineWriter struct {
	dst     io.Writer
	prefix  []byte
	pending []byte
	mu      *sync.Mutex
}

// NewLineWriter creates a LineWriter that writes "prefix line\n" to dst.
func NewLineWriter(dst io.Writer, prefix string) *LineWriter {
	return NewLineWriterShared(dst, prefix, &sync.Mutex{})
}

// NewLineWriterShared is NewLineWriter with a caller-owned mutex, so writers
// for different processes never interleave within a line on the same dst.
func NewLineWriterShared(dst io.Writer, prefix string, mu *sync.Mutex) *LineWriter {
	p := []byte(prefix)
	if len(p) > 0 && p[len(p)-1] != ' ' {
		p = append(p, ' ')
	}
	return &LineWriter{dst: dst, prefix: p, mu: mu}
}

// Write implements io.Writer. It reports len(p) consumed unless dst fails.
// On failure n counts the bytes of p through the last emitted newline;
// p[n:] is not retained, so the caller may retry it.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	held := len(w.pending)
	w.pending = append(w.pending, p...)
	done := 0
	for {
		i := bytes.IndexByte(w.pending[done:], '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.pending[done : done+i]); err != nil {
			n := max(done-held, 0)
			w.pending = w.pending[done:max(done, held)]
			if len(w.pending) == 0 {
				w.pending = nil
			}
			return n, err
		}
		done += i + 1
	}
	w.pending = w.pending[done:]
	if len(w.pending) == 0 {
		w.pending = nil
	}
	return len(p), nil
}

// Flush writes any trailing partial line.
func (w *LineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	err := w.emit(w.pending)
	w.pending = nil
	return err
}

func (w *LineWriter) emit(line []byte) error {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	buf := make([]byte, 0, len(w.prefix)+len(line)+1)
	buf = append(buf, w.prefix...)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.dst.Write(buf)
	return err
}
