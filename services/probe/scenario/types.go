// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// TextDocumentItem is a document transferred on open.
type TextDocumentItem struct {
	// URI is the document URI.
	URI string `json:"uri"`

	// LanguageID is the language identifier (e.g., "python").
	LanguageID string `json:"languageId"`

	// Version increases after each change.
	Version int `json:"version"`

	// Text is the full content.
	Text string `json:"text"`
}

// DidOpenTextDocumentParams is the textDocument/didOpen payload.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// InitializeParams contains initialization parameters.
type InitializeParams struct {
	// ProcessID is the process ID of the parent process.
	ProcessID int `json:"processId"`

	// ClientInfo identifies the probe to the server.
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`

	// RootURI is the root URI of the workspace.
	RootURI string `json:"rootUri"`

	// Capabilities describes what the client supports.
	Capabilities ClientCapabilities `json:"capabilities"`

	// WorkspaceFolders are the workspace folders.
	WorkspaceFolders []WorkspaceFolder `json:"workspaceFolders,omitempty"`
}

// ClientInfo names the client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities describes what the client supports. The probe only
// opens a document, so it claims little.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
}

// TextDocumentSyncClientCapabilities describes sync capabilities.
type TextDocumentSyncClientCapabilities struct {
	DidSave bool `json:"didSave,omitempty"`
}

// WorkspaceClientCapabilities describes workspace capabilities.
type WorkspaceClientCapabilities struct {
	WorkspaceFolders bool `json:"workspaceFolders,omitempty"`
}

// InitializeResult contains the server's response to initialize.
type InitializeResult struct {
	// Capabilities describes what the server supports.
	Capabilities ServerCapabilities `json:"capabilities"`

	// ServerInfo contains optional server information.
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities keeps the few provider flags worth reporting.
type ServerCapabilities struct {
	TextDocumentSync   any `json:"textDocumentSync,omitempty"`
	HoverProvider      any `json:"hoverProvider,omitempty"`
	DefinitionProvider any `json:"definitionProvider,omitempty"`
	CompletionProvider any `json:"completionProvider,omitempty"`
}

// Supports reports which providers the server advertised.
func (c ServerCapabilities) Supports() map[string]bool {
	on := func(v any) bool { return v != nil && v != false }
	return map[string]bool{
		"textDocumentSync": on(c.TextDocumentSync),
		"hover":            on(c.HoverProvider),
		"definition":       on(c.DefinitionProvider),
		"completion":       on(c.CompletionProvider),
	}
}
