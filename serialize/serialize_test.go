package serialize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/basicsharp/chrome-dom-snap/page"
)

func parse(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := page.ParseDocument(markup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestSerialize_Basic(t *testing.T) {
	doc := parse(t, `<!DOCTYPE html><html><head><title>Hi</title></head><body><p>hello</p></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.HasPrefix(res.Content, "<!DOCTYPE html>") {
		t.Errorf("missing doctype: %q", res.Content[:40])
	}
	for _, want := range []string{"<html>", "<title>Hi</title>", "<p>hello</p>", "</html>"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if res.ByteSize != len(res.Content) {
		t.Errorf("ByteSize = %d, want %d", res.ByteSize, len(res.Content))
	}
}

func TestSerialize_ScriptsOmittedByDefault(t *testing.T) {
	doc := parse(t, `<html><head><script src="app.js"></script></head><body><script>alert(1)</script><p>x</p></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.Contains(res.Content, "<script") {
		t.Errorf("scripts not omitted: %q", res.Content)
	}

	res, err = Serialize(doc, Options{IncludeScripts: true})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(res.Content, `<script src="app.js">`) {
		t.Errorf("scripts not included: %q", res.Content)
	}
}

func TestSerialize_OmitStyles(t *testing.T) {
	doc := parse(t, `<html><head><style>p {color: red}</style></head><body><p>x</p></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(res.Content, "<style>") {
		t.Error("styles should be kept by default")
	}

	res, err = Serialize(doc, Options{OmitStyles: true})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.Contains(res.Content, "<style") {
		t.Errorf("styles not omitted: %q", res.Content)
	}
}

func TestSerialize_VoidElements(t *testing.T) {
	doc := parse(t, `<html><body><p>a<br>b</p><img src="x.png"><input type="text"></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	for _, want := range []string{"<br/>", `<img src="x.png"/>`, `<input type="text"/>`} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("output missing %q in %q", want, res.Content)
		}
	}
	if strings.Contains(res.Content, "</br>") || strings.Contains(res.Content, "</img>") {
		t.Errorf("void element got a closing tag: %q", res.Content)
	}
}

func TestSerialize_TextEscaping(t *testing.T) {
	doc := parse(t, `<html><body><p>a &lt; b &amp; c &gt; d</p></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(res.Content, "a &lt; b &amp; c &gt; d") {
		t.Errorf("text not escaped: %q", res.Content)
	}
}

func TestSerialize_AttrEscaping(t *testing.T) {
	doc := parse(t, `<html><body><div title='say "hi"'>x</div></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(res.Content, `title="say &quot;hi&quot;"`) {
		t.Errorf("attribute not escaped: %q", res.Content)
	}
}

func TestSerialize_Comments(t *testing.T) {
	doc := parse(t, `<html><body><!--note--><p>x</p></body></html>`)

	res, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(res.Content, "<!--note-->") {
		t.Errorf("comment lost: %q", res.Content)
	}
}

func TestSerialize_SizeLimit(t *testing.T) {
	doc := parse(t, `<html><body><p>`+strings.Repeat("x", 1024)+`</p></body></html>`)

	_, err := Serialize(doc, Options{MaxBytes: 100})
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("err = %v, want ErrSizeExceeded", err)
	}
}

func TestSerialize_Timeout(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 100000; i++ {
		sb.WriteString("<span>x</span>")
	}
	sb.WriteString("</body></html>")
	doc := parse(t, sb.String())

	_, err := Serialize(doc, Options{MaxBytes: 64 << 20, Timeout: time.Nanosecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	const markup = `<html><head><title>T</title></head><body><div id="a" class="c"><p>one</p><p>two</p></div></body></html>`
	doc := parse(t, markup)

	first, err := Serialize(doc, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	reparsed := parse(t, first.Content)
	second, err := Serialize(reparsed, Options{})
	if err != nil {
		t.Fatalf("Serialize reparsed: %v", err)
	}
	if first.Content != second.Content {
		t.Errorf("round trip not stable:\nfirst  = %q\nsecond = %q", first.Content, second.Content)
	}
}

func TestMetadata(t *testing.T) {
	p, err := page.NewMemoryPage(
		`<html><head><title> My Page </title></head><body></body></html>`,
		page.WithURL("https://example.com/a"),
		page.WithViewport(1024, 768),
	)
	if err != nil {
		t.Fatalf("NewMemoryPage: %v", err)
	}

	m := Metadata(p, 42)
	if m.PageTitle != "My Page" {
		t.Errorf("PageTitle = %q, want %q", m.PageTitle, "My Page")
	}
	if m.SourceURL != "https://example.com/a" {
		t.Errorf("SourceURL = %q", m.SourceURL)
	}
	if m.ViewportWidth != 1024 || m.ViewportHeight != 768 {
		t.Errorf("viewport = %dx%d", m.ViewportWidth, m.ViewportHeight)
	}
	if m.ByteSize != 42 {
		t.Errorf("ByteSize = %d", m.ByteSize)
	}
	if m.CapturedAt <= 0 {
		t.Errorf("CapturedAt = %d", m.CapturedAt)
	}
}

func TestMetadata_UntitledFallback(t *testing.T) {
	p, err := page.NewMemoryPage(`<html><head></head><body></body></html>`)
	if err != nil {
		t.Fatalf("NewMemoryPage: %v", err)
	}
	if m := Metadata(p, 0); m.PageTitle != "Untitled" {
		t.Errorf("PageTitle = %q, want Untitled", m.PageTitle)
	}
}
