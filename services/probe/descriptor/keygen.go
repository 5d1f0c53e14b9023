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
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
)

// KeySize is the number of random bytes behind a generated key.
const KeySize = 32

// GenerateKey returns KeySize random bytes, hex encoded.
//
// Description:
//
//	The bytes are drawn into a memguard locked buffer and wiped as soon as
//	they are encoded. The returned string is ordinary Go memory; it has to
//	be, since it ends up in the descriptor file.
//
// Outputs:
//
//	string - 64 hex characters
//	error - Non-nil if the locked buffer could not be allocated
func GenerateKey() (string, error) {
	buf := memguard.NewBufferRandom(KeySize)
	if buf == nil || !buf.IsAlive() {
		return "", fmt.Errorf("allocate %d byte key buffer", KeySize)
	}
	defer buf.Destroy()

	return hex.EncodeToString(buf.Bytes()), nil
}
