package util

import "strings"

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (NUL bytes from PDF extractors, stray form feeds from DOCX and XLSX exports) and
// replaces invalid UTF-8 left behind by token-window decoding.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")

	r := make([]rune, 0, len(s))
	for _, ch := range s {
		switch {
		case ch == '\n' || ch == '\t':
			r = append(r, ch)
		case ch == '\r':
			// CRLF collapses to LF so paragraph splitting sees one separator.
			continue
		case ch == '\f' || ch == '\v':
			r = append(r, '\n')
		case ch < 0x20 || ch == 0x7f:
			continue
		default:
			r = append(r, ch)
		}
	}
	return strings.TrimSpace(string(r))
}

// TruncateRunes cuts s to at most n characters and reports whether anything was dropped.
func TruncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
