// Package xmlutil provides the small escaping helpers the STOMP and file
// sinks need to embed arbitrary log text in XML documents. Kept
// intentionally minimal — spec.md calls this "not the interesting
// engineering" but it's required plumbing for C7/C8.
package xmlutil

import "strings"

// Sanitize escapes _s for inclusion in an XML element's text content,
// matching the original's sanitize_string order: "&" must be replaced
// first, or a naive replacer would double-escape the ampersands it
// introduces for the other entities.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\x00", "\\0")
	return s
}

// CData wraps _data in one or more CDATA sections, splitting on any
// embedded "]]>" terminator sequence (which cannot otherwise appear inside
// a CDATA section) into consecutive sections.
func CData(data string) string {
	var b strings.Builder
	b.WriteString("<![CDATA[")
	rest := data
	for {
		i := strings.Index(rest, "]]>")
		if i == -1 {
			break
		}
		b.WriteString(rest[:i+2])
		b.WriteString("]]><![CDATA[")
		rest = rest[i+2:]
	}
	b.WriteString(rest)
	b.WriteString("]]>")
	return b.String()
}
