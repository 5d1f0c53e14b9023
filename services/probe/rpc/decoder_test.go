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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(body string) []byte {
	return []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body))
}

func TestDecoder_SingleFrame(t *testing.T) {
	var d Decoder
	msgs := d.Feed(frame(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))

	require.Len(t, msgs, 1)
	id, ok := msgs[0].IntID()
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.JSONEq(t, `{"ok":true}`, string(msgs[0].Result))
	assert.Zero(t, d.Malformed())
	assert.Zero(t, d.Buffered())
}

func TestDecoder_ThreeChunksAtEverySplit(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":7,"method":"x","params":{"a":"b"}}`
	raw := frame(body)

	var whole Decoder
	want := whole.Feed(raw)
	require.Len(t, want, 1)

	for i := 1; i < len(raw)-1; i++ {
		for j := i + 1; j < len(raw); j++ {
			var d Decoder
			var got []*Message
			got = append(got, d.Feed(raw[:i])...)
			got = append(got, d.Feed(raw[i:j])...)
			got = append(got, d.Feed(raw[j:])...)

			require.Len(t, got, 1, "split at %d/%d", i, j)
			require.Equal(t, want[0], got[0], "split at %d/%d", i, j)
			require.Zero(t, d.Buffered())
		}
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	raw := append(frame(`{"id":1,"result":null}`), frame(`{"id":2,"result":null}`)...)

	var d Decoder
	var got []*Message
	for i := range raw {
		got = append(got, d.Feed(raw[i:i+1])...)
	}

	require.Len(t, got, 2)
	id, _ := got[1].IntID()
	assert.Equal(t, int64(2), id)
}

func TestDecoder_BackToBack(t *testing.T) {
	var raw bytes.Buffer
	for i := 1; i <= 5; i++ {
		raw.Write(frame(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, i, i*i)))
	}

	var d Decoder
	msgs := d.Feed(raw.Bytes())
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		id, ok := m.IntID()
		require.True(t, ok)
		assert.Equal(t, int64(i+1), id, "messages keep stream order")
	}
}

func TestDecoder_KeepsRawBody(t *testing.T) {
	first := `{"id":1, "jsonrpc":"2.0","result":null}`
	second := `{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3}}`

	var d Decoder
	msgs := d.Feed(frame(first))
	require.Len(t, msgs, 1)
	require.Len(t, d.Feed(frame(second)), 1)

	assert.Equal(t, first, string(msgs[0].Raw), "raw body survives buffer reuse")
}

func TestDecoder_TrailingPartialIsHeld(t *testing.T) {
	full := frame(`{"id":1,"result":1}`)
	next := frame(`{"id":2,"result":2}`)

	var d Decoder
	msgs := d.Feed(append(append([]byte{}, full...), next[:10]...))
	require.Len(t, msgs, 1)
	assert.Equal(t, 10, d.Buffered())

	msgs = d.Feed(next[10:])
	require.Len(t, msgs, 1)
	assert.Zero(t, d.Buffered())
}

func TestDecoder_Resync(t *testing.T) {
	good := frame(`{"jsonrpc":"2.0","method":"ok"}`)

	tests := []struct {
		name    string
		garbage string
	}{
		{"non numeric length", "Content-Length: abc\r\n\r\n"},
		{"negative length", "Content-Length: -4\r\n\r\n"},
		{"no length header", "Content-Type: application/json\r\n\r\n"},
		{"oversized length", fmt.Sprintf("Content-Length: %d\r\n\r\n", MaxBodyBytes+1)},
		{"body not json", "Content-Length: 5\r\n\r\nhello"},
		{"empty body", "Content-Length: 0\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			msgs := d.Feed(append([]byte(tt.garbage), good...))

			require.Len(t, msgs, 1)
			assert.Equal(t, "ok", msgs[0].Method)
			assert.Equal(t, 1, d.Malformed())
		})
	}
}

func TestDecoder_HeaderVariants(t *testing.T) {
	body := `{"method":"m"}`
	tests := []string{
		fmt.Sprintf("content-length: %d\r\n\r\n%s", len(body), body),
		fmt.Sprintf("CONTENT-LENGTH:%d\r\n\r\n%s", len(body), body),
		fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n%s", len(body), body),
		fmt.Sprintf("Content-Type: x\r\nContent-Length: %d\r\n\r\n%s", len(body), body),
	}
	for _, raw := range tests {
		var d Decoder
		msgs := d.Feed([]byte(raw))
		require.Len(t, msgs, 1, raw)
		assert.Equal(t, "m", msgs[0].Method)
	}
}

func TestDecoder_Compacts(t *testing.T) {
	var d Decoder
	raw := frame(`{"id":1,"result":"0123456789"}`)
	for i := 0; i < 1000; i++ {
		msgs := d.Feed(raw)
		require.Len(t, msgs, 1)
	}
	assert.Zero(t, d.Buffered())
	assert.LessOrEqual(t, len(d.buf), len(raw))
}

func TestMessage_Kinds(t *testing.T) {
	var d Decoder
	msgs := d.Feed(append(append(append(
		frame(`{"jsonrpc":"2.0","id":3,"result":null}`),
		frame(`{"jsonrpc":"2.0","method":"window/logMessage","params":{}}`)...),
		frame(`{"jsonrpc":"2.0","id":"abc","method":"workspace/configuration"}`)...),
		frame(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`)...))
	require.Len(t, msgs, 4)

	resp, notif, req, nullID := msgs[0], msgs[1], msgs[2], msgs[3]

	assert.True(t, resp.IsResponse())
	assert.False(t, resp.IsNotification())

	assert.True(t, notif.IsNotification())
	_, ok := notif.IntID()
	assert.False(t, ok)

	assert.False(t, req.IsResponse())
	assert.False(t, req.IsNotification())
	_, ok = req.IntID()
	assert.False(t, ok, "string ids are not integers")

	assert.False(t, nullID.HasID())
	require.NotNil(t, nullID.Error)
	assert.Equal(t, CodeParseError, nullID.Error.Code)
}

func TestEncodeFrame(t *testing.T) {
	raw, err := EncodeFrame(Request{JSONRPC: JSONRPCVersion, ID: 1, Method: "initialize"})
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	assert.Equal(t, fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body), string(raw))

	var d Decoder
	msgs := d.Feed(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, "initialize", msgs[0].Method)
}

func TestPredicates(t *testing.T) {
	var d Decoder
	msgs := d.Feed(append(
		frame(`{"id":2,"result":1}`),
		frame(`{"id":2,"method":"client/registerCapability"}`)...))
	require.Len(t, msgs, 2)

	assert.True(t, ByID(2)(msgs[0]))
	assert.False(t, ByID(3)(msgs[0]))
	assert.False(t, ByID(2)(msgs[1]), "a server request with the same id is not our response")
	assert.True(t, ByMethod("client/registerCapability")(msgs[1]))
	assert.True(t, And()(msgs[0]))
	assert.False(t, And(ByID(2), ByMethod("x"))(msgs[0]))
	assert.True(t, Any()(msgs[1]))
}
