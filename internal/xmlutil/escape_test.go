package xmlutil

import "testing"

func TestSanitize(t *testing.T) {
	in := "a & b \"quoted\" <tag> 'x' \x00"
	want := "a &amp; b &quot;quoted&quot; &lt;tag&gt; &apos;x&apos; \\0"
	if got := Sanitize(in); got != want {
		t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
	}
}

func TestCData(t *testing.T) {
	in := "before]]>after"
	want := "<![CDATA[before]]]]><![CDATA[>after]]>"
	if got := CData(in); got != want {
		t.Errorf("CData(%q) = %q, want %q", in, got, want)
	}
}

func TestCDataNoSplit(t *testing.T) {
	in := "plain text"
	want := "<![CDATA[plain text]]>"
	if got := CData(in); got != want {
		t.Errorf("CData(%q) = %q, want %q", in, got, want)
	}
}
