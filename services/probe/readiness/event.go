// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package readiness

import (
	"bytes"
	"encoding/json"
)

// Event tags understood on the sidecar's stdout.
const (
	EventReady = "lsp_port"
	EventError = "error"
)

// Event is one recognised line of the readiness stream.
type Event struct {
	Event   string
	Port    int
	Message string
}

type wireEvent struct {
	Event   string  `json:"event"`
	Port    *int    `json:"port"`
	Message *string `json:"message"`
}

// ParseEvent decodes a single line.
//
// Description:
//
//	Returns ok=false for anything that is not a ready event with an
//	integer port in 1..65535 or an error event with a string message.
//	Log noise, other JSON, and half-formed events all land there.
func ParseEvent(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Event{}, false
	}

	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, false
	}

	switch w.Event {
	case EventReady:
		if w.Port == nil || *w.Port < 1 || *w.Port > 65535 {
			return Event{}, false
		}
		return Event{Event: EventReady, Port: *w.Port}, true
	case EventError:
		if w.Message == nil {
			return Event{}, false
		}
		return Event{Event: EventError, Message: *w.Message}, true
	default:
		return Event{}, false
	}
}
