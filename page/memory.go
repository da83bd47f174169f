package page

import (
	"fmt"

	"golang.org/x/net/html"
)

// MemoryPage is an in-process Page over a parsed html tree. It models the
// runtime facets the core needs (scroll, focus, storage, globals) as plain
// fields, which makes capture/replay and restoration testable without a
// browser. Not safe for concurrent use.
type MemoryPage struct {
	doc     *html.Node
	url     string
	width   int
	height  int
	scrollX int
	scrollY int
	focused string
	globals map[string]any
	session map[string]string
	local   map[string]string
}

// MemoryOption configures a MemoryPage.
type MemoryOption func(*MemoryPage)

// WithURL sets the page URL.
func WithURL(u string) MemoryOption { return func(p *MemoryPage) { p.url = u } }

// WithViewport sets the viewport dimensions.
func WithViewport(w, h int) MemoryOption {
	return func(p *MemoryPage) { p.width, p.height = w, h }
}

// WithGlobal defines a page-global variable.
func WithGlobal(name string, value any) MemoryOption {
	return func(p *MemoryPage) { p.globals[name] = value }
}

// WithSessionItem seeds the session-scoped store.
func WithSessionItem(key, value string) MemoryOption {
	return func(p *MemoryPage) { p.session[key] = value }
}

// WithLocalItem seeds the origin-scoped store.
func WithLocalItem(key, value string) MemoryOption {
	return func(p *MemoryPage) { p.local[key] = value }
}

// NewMemoryPage parses markup into a live document and returns a page over
// it.
func NewMemoryPage(markup string, opts ...MemoryOption) (*MemoryPage, error) {
	doc, err := ParseDocument(markup)
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	p := &MemoryPage{
		doc:     doc,
		url:     "about:blank",
		width:   1280,
		height:  800,
		globals: make(map[string]any),
		session: make(map[string]string),
		local:   make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *MemoryPage) Document() *html.Node { return p.doc }

// ReplaceDocument swaps the document and resets runtime state, matching what
// a fresh navigation does: scroll at origin, nothing focused, globals gone.
// Storage survives, as it does in a real browser.
func (p *MemoryPage) ReplaceDocument(doc *html.Node) {
	p.doc = doc
	p.scrollX, p.scrollY = 0, 0
	p.focused = ""
	p.globals = make(map[string]any)
}

func (p *MemoryPage) Parse(markup string) (*html.Node, error) {
	return ParseDocument(markup)
}

func (p *MemoryPage) URL() string { return p.url }

func (p *MemoryPage) Title() string { return TitleText(p.doc) }

func (p *MemoryPage) Viewport() (int, int) { return p.width, p.height }

func (p *MemoryPage) ScrollOffset() (int, int) { return p.scrollX, p.scrollY }

func (p *MemoryPage) SetScroll(x, y int) { p.scrollX, p.scrollY = x, y }

func (p *MemoryPage) Focused() *FocusInfo {
	if p.focused == "" {
		return nil
	}
	n := FindByID(p.doc, p.focused)
	if n == nil {
		return nil
	}
	info := &FocusInfo{Tag: n.Data, ID: p.focused}
	for _, a := range n.Attr {
		if a.Key == "name" {
			info.Name = a.Val
		}
	}
	return info
}

func (p *MemoryPage) FocusByID(id string) bool {
	if FindByID(p.doc, id) == nil {
		return false
	}
	p.focused = id
	return true
}

func (p *MemoryPage) Globals() map[string]any { return p.globals }

func (p *MemoryPage) SetGlobal(name string, value any) bool {
	if _, ok := p.globals[name]; !ok {
		return false
	}
	p.globals[name] = value
	return true
}

// DefineGlobal introduces a new page-global, regardless of whether it
// already exists. Test and embedder convenience; SetGlobal deliberately
// refuses to create globals.
func (p *MemoryPage) DefineGlobal(name string, value any) {
	p.globals[name] = value
}

func (p *MemoryPage) SessionStorage() map[string]string { return p.session }

func (p *MemoryPage) LocalStorage() map[string]string { return p.local }

func (p *MemoryPage) SetSessionItem(key, value string) { p.session[key] = value }

func (p *MemoryPage) SetLocalItem(key, value string) { p.local[key] = value }
