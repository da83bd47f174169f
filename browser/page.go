package browser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"golang.org/x/net/html"

	"github.com/basicsharp/chrome-dom-snap/page"
)

// Page adapts a Rod tab to page.Page. The document tree is fetched lazily
// from the live DOM and cached; mutations made by the caller (morphing,
// wholesale replacement) stay local until Flush pushes the rendered tree
// back over CDP.
//
// The page.Page accessors carry no error returns, so CDP failures are
// logged and surface as zero values.
type Page struct {
	tab    *rod.Page
	logger *slog.Logger

	doc *html.Node
}

// recordBaseline stashes the pristine set of window property names so that
// Globals can report only page-defined variables.
func (p *Page) recordBaseline() {
	_, err := p.tab.Eval(`() => {
		if (!window.__snapBaseline) {
			window.__snapBaseline = Object.getOwnPropertyNames(window);
		}
	}`)
	if err != nil {
		p.logger.Warn("browser: record globals baseline failed", "error", err)
	}
}

// Document returns the cached tree, fetching the live DOM on first use.
func (p *Page) Document() *html.Node {
	if p.doc != nil {
		return p.doc
	}
	res, err := p.tab.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		p.logger.Error("browser: fetch document failed", "error", err)
		return nil
	}
	doc, err := page.ParseDocument(res.Value.Str())
	if err != nil {
		p.logger.Error("browser: parse document failed", "error", err)
		return nil
	}
	p.doc = doc
	return doc
}

// ReplaceDocument swaps the cached tree. The live DOM is updated on Flush.
func (p *Page) ReplaceDocument(doc *html.Node) {
	p.doc = doc
}

func (p *Page) Parse(markup string) (*html.Node, error) {
	return page.ParseDocument(markup)
}

// Flush renders the cached tree and pushes it to the live page. Marks the
// cache clean; a later Document call keeps returning the same tree.
func (p *Page) Flush() error {
	if p.doc == nil {
		return nil
	}
	var sb strings.Builder
	if err := html.Render(&sb, p.doc); err != nil {
		return fmt.Errorf("browser: render document: %w", err)
	}
	if err := p.tab.SetDocumentContent(sb.String()); err != nil {
		return fmt.Errorf("browser: set document content: %w", err)
	}
	return nil
}

// Invalidate drops the cached tree so the next Document call refetches the
// live DOM.
func (p *Page) Invalidate() {
	p.doc = nil
}

func (p *Page) URL() string {
	res, err := p.tab.Eval(`() => location.href`)
	if err != nil {
		p.logger.Warn("browser: read url failed", "error", err)
		return ""
	}
	return res.Value.Str()
}

func (p *Page) Title() string {
	res, err := p.tab.Eval(`() => document.title`)
	if err != nil {
		p.logger.Warn("browser: read title failed", "error", err)
		return ""
	}
	return res.Value.Str()
}

func (p *Page) Viewport() (width, height int) {
	res, err := p.tab.Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		p.logger.Warn("browser: read viewport failed", "error", err)
		return 0, 0
	}
	return int(res.Value.Get("w").Int()), int(res.Value.Get("h").Int())
}

func (p *Page) ScrollOffset() (x, y int) {
	res, err := p.tab.Eval(`() => ({x: window.scrollX, y: window.scrollY})`)
	if err != nil {
		p.logger.Warn("browser: read scroll failed", "error", err)
		return 0, 0
	}
	return int(res.Value.Get("x").Int()), int(res.Value.Get("y").Int())
}

func (p *Page) SetScroll(x, y int) {
	_, err := p.tab.Eval(`(x, y) => window.scrollTo(x, y)`, x, y)
	if err != nil {
		p.logger.Warn("browser: set scroll failed", "error", err)
	}
}

func (p *Page) Focused() *page.FocusInfo {
	res, err := p.tab.Eval(`() => {
		const el = document.activeElement;
		if (!el || el === document.body) return null;
		return {tag: el.tagName.toLowerCase(), id: el.id || "", name: el.name || ""};
	}`)
	if err != nil || res.Value.Nil() {
		return nil
	}
	return &page.FocusInfo{
		Tag:  res.Value.Get("tag").Str(),
		ID:   res.Value.Get("id").Str(),
		Name: res.Value.Get("name").Str(),
	}
}

func (p *Page) FocusByID(id string) bool {
	res, err := p.tab.Eval(`(id) => {
		const el = document.getElementById(id);
		if (!el) return false;
		el.focus();
		return true;
	}`, id)
	if err != nil {
		p.logger.Warn("browser: focus failed", "id", id, "error", err)
		return false
	}
	return res.Value.Bool()
}

// Globals enumerates window properties added after the baseline, keeping
// only JSON-serialisable values. Callers apply their own relevance filter.
func (p *Page) Globals() map[string]any {
	res, err := p.tab.Eval(`() => {
		const base = new Set(window.__snapBaseline || []);
		const out = {};
		for (const name of Object.getOwnPropertyNames(window)) {
			if (base.has(name) || name === "__snapBaseline") continue;
			const v = window[name];
			const t = typeof v;
			if (t === "string" || t === "number" || t === "boolean") {
				out[name] = v;
			} else if (v !== null && t === "object") {
				try { out[name] = JSON.parse(JSON.stringify(v)); } catch (e) {}
			}
		}
		return out;
	}`)
	if err != nil {
		p.logger.Warn("browser: enumerate globals failed", "error", err)
		return nil
	}
	out := make(map[string]any)
	for name, v := range res.Value.Map() {
		out[name] = v.Val()
	}
	return out
}

func (p *Page) SetGlobal(name string, value any) bool {
	res, err := p.tab.Eval(`(name, value) => {
		if (!(name in window)) return false;
		window[name] = value;
		return true;
	}`, name, value)
	if err != nil {
		p.logger.Warn("browser: set global failed", "name", name, "error", err)
		return false
	}
	return res.Value.Bool()
}

func (p *Page) SessionStorage() map[string]string {
	return p.readStorage("sessionStorage")
}

func (p *Page) LocalStorage() map[string]string {
	return p.readStorage("localStorage")
}

func (p *Page) SetSessionItem(key, value string) {
	p.writeStorage("sessionStorage", key, value)
}

func (p *Page) SetLocalItem(key, value string) {
	p.writeStorage("localStorage", key, value)
}

func (p *Page) readStorage(store string) map[string]string {
	res, err := p.tab.Eval(fmt.Sprintf(`() => {
		const s = window.%s;
		const out = {};
		for (let i = 0; i < s.length; i++) {
			const k = s.key(i);
			out[k] = s.getItem(k);
		}
		return out;
	}`, store))
	if err != nil {
		p.logger.Warn("browser: read storage failed", "store", store, "error", err)
		return nil
	}
	out := make(map[string]string)
	for k, v := range res.Value.Map() {
		out[k] = v.Str()
	}
	return out
}

func (p *Page) writeStorage(store, key, value string) {
	_, err := p.tab.Eval(fmt.Sprintf(`(k, v) => window.%s.setItem(k, v)`, store), key, value)
	if err != nil {
		p.logger.Warn("browser: write storage failed", "store", store, "error", err)
	}
}

// Close closes the underlying tab.
func (p *Page) Close() error {
	if p.tab != nil {
		return p.tab.Close()
	}
	return nil
}
