// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "strings"

// lossyUTF8 decodes a device-identification object value (spec.md §4.3):
// bytes are interpreted as UTF-8 with invalid sequences replaced rather
// than rejected, so the parser never fails on encoding. strings.ToValidUTF8
// is the standard library's own implementation of exactly this substitution
// and no pack example reaches for a third-party text-encoding library for
// it, so this stays on the standard library (see DESIGN.md).
func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
