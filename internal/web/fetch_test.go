package web

import "testing"

func TestParseContentType_SplitsMediaTypeAndCharset(t *testing.T) {
	ct, cs := parseContentType(`text/html; charset=ISO-8859-1`)
	if ct != "text/html" {
		t.Errorf("ct = %q, want text/html", ct)
	}
	if cs != "iso-8859-1" {
		t.Errorf("cs = %q, want iso-8859-1", cs)
	}
}

func TestIsHTML_RecognizesHTMLContentTypes(t *testing.T) {
	cases := map[string]bool{
		"text/html":             true,
		"application/xhtml+xml": true,
		"application/vnd+html":  true,
		"application/json":      false,
		"text/plain":            false,
	}
	for ct, want := range cases {
		if got := isHTML(ct); got != want {
			t.Errorf("isHTML(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestBaseOrigin_ExtractsSchemeAndHost(t *testing.T) {
	got := baseOrigin("https://example.com/some/page?x=1")
	if want := "https://example.com"; got != want {
		t.Errorf("baseOrigin() = %q, want %q", got, want)
	}
	if got := baseOrigin("not a url"); got != "" {
		t.Errorf("baseOrigin() on invalid input = %q, want empty", got)
	}
}

func TestFenced_WrapsContentInCodeBlock(t *testing.T) {
	got := fenced("hello\n", "json")
	want := "```json\nhello\n```"
	if got != want {
		t.Errorf("fenced() = %q, want %q", got, want)
	}
}

func TestHasLeadingH1_DetectsMarkdownHeading(t *testing.T) {
	if !hasLeadingH1("# Title\n\nbody") {
		t.Error("expected leading H1 to be detected")
	}
	if hasLeadingH1("no heading here") {
		t.Error("expected no leading H1")
	}
}

func TestToUTF8_PassesThroughUTF8Unchanged(t *testing.T) {
	in := []byte("hello world")
	out, err := toUTF8(in, "utf-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello world" {
		t.Errorf("toUTF8() = %q, want unchanged input", out)
	}
}
