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
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only protocol version spoken.
const JSONRPCVersion = "2.0"

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request is an outbound call.
type Request struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID correlates the response.
	ID int64 `json:"id"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params any `json:"params,omitempty"`
}

// Notification is an outbound message with no response.
type Notification struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params any `json:"params,omitempty"`
}

// ResponseError is the error member of a response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Message is any inbound JSON-RPC payload: response, request, or
// notification. Messages handed to waits are shared and must not be
// modified.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`

	// Raw is the frame body exactly as received.
	Raw json.RawMessage `json:"-"`
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	id := bytes.TrimSpace(m.ID)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// IntID returns the id when it is an integer.
func (m *Message) IntID() (int64, bool) {
	if !m.HasID() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(m.ID)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool {
	return m.HasID() && m.Method == ""
}

// IsNotification reports whether the message is a method call with no id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.HasID()
}

// =============================================================================
// FRAMING
// =============================================================================

// EncodeFrame returns v as "Content-Length: N\r\n\r\n<json>".
func EncodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)
	return frame, nil
}
