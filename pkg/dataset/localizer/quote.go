// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package localizer

import "strings"

// quote percent-escapes every byte of s except ASCII letters, digits,
// "_.-~" and the bytes in safe. The Brainomics server matches queries
// literally, so the escaping must be exactly this one; url.QueryEscape
// would turn spaces into '+' and escape the parentheses.
func quote(s, safe string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '.' || c == '-' || c == '~'
}
