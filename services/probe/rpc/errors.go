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
	"errors"
	"fmt"
)

// Sentinel errors for RPC operations.
var (
	// ErrRPCTimeout indicates a wait's deadline passed with no match.
	ErrRPCTimeout = errors.New("rpc wait timeout")

	// ErrClosed indicates the client was closed before the wait settled.
	ErrClosed = errors.New("rpc client closed")
)

// JSON-RPC and LSP error codes worth naming.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
)

// RPCError is an error object returned by the peer in a response.
type RPCError struct {
	// Method is the request that failed, when known.
	Method string

	// Code is the JSON-RPC error code.
	Code int

	// Message is the peer's description.
	Message string

	// Data is optional structured detail.
	Data any
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	prefix := "rpc error"
	if e.Method != "" {
		prefix = e.Method
	}
	if e.Data != nil {
		return fmt.Sprintf("%s: error %d: %s (data: %v)", prefix, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%s: error %d: %s", prefix, e.Code, e.Message)
}

// IsMethodNotFound reports whether the peer does not implement the method.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// ErrorFor converts a response's error object, or returns nil.
func ErrorFor(method string, m *Message) error {
	if m == nil || m.Error == nil {
		return nil
	}
	return &RPCError{
		Method:  method,
		Code:    m.Error.Code,
		Message: m.Error.Message,
		Data:    m.Error.Data,
	}
}
