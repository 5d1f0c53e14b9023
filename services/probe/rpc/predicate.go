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

// Predicate selects inbound messages for a wait. Predicates run on the
// client's read goroutine under its lock and must not block or call back
// into the client.
type Predicate func(*Message) bool

// ByID matches a response with the given integer id.
func ByID(id int64) Predicate {
	return func(m *Message) bool {
		got, ok := m.IntID()
		return ok && got == id && m.Method == ""
	}
}

// ByMethod matches requests and notifications for method.
func ByMethod(method string) Predicate {
	return func(m *Message) bool {
		return m.Method == method
	}
}

// And matches when every predicate matches. And() matches everything.
func And(preds ...Predicate) Predicate {
	return func(m *Message) bool {
		for _, p := range preds {
			if !p(m) {
				return false
			}
		}
		return true
	}
}

// Any matches every message.
func Any() Predicate {
	return func(*Message) bool { return true }
}
