// Package serialize walks a live document tree and produces a restorable
// markup encoding plus size metadata.
package serialize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/basicsharp/chrome-dom-snap/page"
)

// ErrSizeExceeded is returned when the encoded output is larger than the
// configured ceiling. Nothing is returned alongside it.
var ErrSizeExceeded = errors.New("serialized content exceeds size limit")

// ErrTimeout is returned when serialization does not complete within the
// wall-clock budget.
var ErrTimeout = errors.New("serialization timed out")

const (
	// DefaultMaxBytes is the default serialized-size ceiling (5 MiB).
	DefaultMaxBytes = 5 << 20
	// DefaultTimeout is the default wall-clock budget for one serialization.
	DefaultTimeout = 10 * time.Second
)

// Options tunes serialization. The zero value matches the defaults: styles
// included, scripts omitted, 5 MiB ceiling, 10 s budget.
type Options struct {
	// OmitStyles drops style elements from the output.
	OmitStyles bool
	// IncludeScripts keeps script elements in the output. Off by default:
	// restored documents should not re-run page scripts.
	IncludeScripts bool
	// MaxBytes is the output size ceiling. 0 means DefaultMaxBytes.
	MaxBytes int
	// Timeout is the wall-clock budget. 0 means DefaultTimeout.
	Timeout time.Duration
}

func (o *Options) defaults() {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// Result is a completed serialization.
type Result struct {
	Content  string
	ByteSize int
}

// Void elements self-close; everything else gets an explicit closing tag.
var voidElements = map[string]bool{
	"img": true, "br": true, "hr": true, "input": true, "meta": true,
	"link": true, "area": true, "base": true, "col": true, "embed": true,
	"source": true, "track": true, "wbr": true,
}

// Serialize encodes the tree rooted at root as restorable markup.
//
// The walk runs in its own goroutine and the budget is enforced by a
// caller-side timer: the walk itself is not preemptible, so a pathological
// tree can keep consuming CPU after ErrTimeout is returned.
func Serialize(root *html.Node, opts Options) (*Result, error) {
	opts.defaults()

	type outcome struct {
		content string
	}
	done := make(chan outcome, 1)
	go func() {
		var sb strings.Builder
		writeNode(&sb, root, &opts)
		done <- outcome{content: sb.String()}
	}()

	select {
	case out := <-done:
		size := len(out.content)
		if size > opts.MaxBytes {
			return nil, fmt.Errorf("serialize: %w: %d bytes over %d limit",
				ErrSizeExceeded, size, opts.MaxBytes)
		}
		return &Result{Content: out.content, ByteSize: size}, nil
	case <-time.After(opts.Timeout):
		return nil, fmt.Errorf("serialize: %w after %s", ErrTimeout, opts.Timeout)
	}
}

func writeNode(sb *strings.Builder, n *html.Node, opts *Options) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(sb, c, opts)
		}

	case html.DoctypeNode:
		sb.WriteString("<!DOCTYPE ")
		sb.WriteString(n.Data)
		sb.WriteString(">")

	case html.ElementNode:
		if n.DataAtom == atom.Script && !opts.IncludeScripts {
			return
		}
		if n.DataAtom == atom.Style && opts.OmitStyles {
			return
		}
		sb.WriteString("<")
		sb.WriteString(n.Data)
		for _, a := range n.Attr {
			sb.WriteString(" ")
			if a.Namespace != "" {
				sb.WriteString(a.Namespace)
				sb.WriteString(":")
			}
			sb.WriteString(a.Key)
			sb.WriteString(`="`)
			sb.WriteString(escapeAttr(a.Val))
			sb.WriteString(`"`)
		}
		if voidElements[n.Data] && n.FirstChild == nil {
			sb.WriteString("/>")
			return
		}
		sb.WriteString(">")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(sb, c, opts)
		}
		sb.WriteString("</")
		sb.WriteString(n.Data)
		sb.WriteString(">")

	case html.TextNode:
		sb.WriteString(escapeText(n.Data))

	case html.CommentNode:
		sb.WriteString("<!--")
		sb.WriteString(n.Data)
		sb.WriteString("-->")

	default:
		// Raw and error nodes contribute nothing.
	}
}

// escapeText entity-escapes text content. Ampersand first, so already
// produced entities are not double-escaped.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(s, `"`, "&quot;")
}

// Meta is capture-time metadata gathered alongside the encoding.
type Meta struct {
	ByteSize       int
	PageTitle      string
	ViewportWidth  int
	ViewportHeight int
	SourceURL      string
	CapturedAt     int64 // epoch milliseconds
}

// Metadata collects snapshot metadata from the page at call time.
func Metadata(p page.Page, byteSize int) Meta {
	title := strings.TrimSpace(p.Title())
	if title == "" {
		title = "Untitled"
	}
	w, h := p.Viewport()
	return Meta{
		ByteSize:       byteSize,
		PageTitle:      title,
		ViewportWidth:  w,
		ViewportHeight: h,
		SourceURL:      p.URL(),
		CapturedAt:     time.Now().UnixMilli(),
	}
}
