// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rpc

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// MaxBodyBytes is the largest Content-Length accepted; anything larger is
// treated as a malformed header.
const MaxBodyBytes = 64 << 20

var headerTerminator = []byte("\r\n\r\n")

// Decoder reassembles Content-Length framed messages from arbitrary chunks.
//
// Description:
//
//	Bytes are appended to one buffer. start is the read cursor: everything
//	before it has been consumed. scan remembers where the next search for
//	a header terminator may begin so bytes already known not to contain
//	one are not searched again. A header that cannot be parsed is skipped
//	up to and past its terminator; a body that is not valid JSON is
//	dropped. Both count as malformed frames and never stop decoding.
//
// Thread Safety:
//
//	Not safe for concurrent use. The client feeds it from one goroutine.
type Decoder struct {
	buf       []byte
	start     int
	scan      int
	malformed int
}

// Feed appends chunk and returns every message completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []*Message {
	d.buf = append(d.buf, chunk...)

	var out []*Message
	for {
		from := max(d.scan, d.start)
		i := bytes.Index(d.buf[from:], headerTerminator)
		if i < 0 {
			// A terminator may straddle the next chunk boundary.
			d.scan = max(d.start, len(d.buf)-len(headerTerminator)+1)
			break
		}
		headerEnd := from + i
		bodyStart := headerEnd + len(headerTerminator)

		n, ok := parseContentLength(d.buf[d.start:headerEnd])
		if !ok {
			d.malformed++
			d.start, d.scan = bodyStart, bodyStart
			continue
		}
		if len(d.buf)-bodyStart < n {
			d.scan = headerEnd
			break
		}

		body := d.buf[bodyStart : bodyStart+n]
		d.start = bodyStart + n
		d.scan = d.start

		var m Message
		if err := json.Unmarshal(body, &m); err != nil {
			d.malformed++
			continue
		}
		m.Raw = bytes.Clone(body)
		out = append(out, &m)
	}

	d.compact()
	return out
}

// Malformed returns how many frames have been discarded so far.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// Buffered returns the number of unconsumed bytes held.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

// compact drops the consumed prefix once it dominates the buffer.
func (d *Decoder) compact() {
	switch {
	case d.start == 0:
	case d.start == len(d.buf):
		d.buf = d.buf[:0]
		d.start, d.scan = 0, 0
	case d.start >= len(d.buf)/2:
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.scan -= d.start
		d.start = 0
	}
}

// parseContentLength extracts Content-Length from a header block. Header
// names are case-insensitive and other headers are ignored.
func parseContentLength(block []byte) (int, bool) {
	for _, line := range bytes.Split(block, []byte("\r\n")) {
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		if !bytes.EqualFold(bytes.TrimSpace(name), []byte("Content-Length")) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 || n > MaxBodyBytes {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
