// Package page abstracts the live page that snapshots are captured from and
// restored onto. The core algorithms (serialize, morph, preserve, restore)
// only ever talk to the Page interface; concrete implementations are the
// in-process MemoryPage below and the CDP-backed browser.Page.
package page

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FocusInfo identifies the focused element well enough for a best-effort
// re-focus after restoration.
type FocusInfo struct {
	Tag  string
	ID   string
	Name string
}

// Page is the page-context accessor consumed by the core. Implementations
// must provide the live document tree, viewport and scroll primitives, the
// two standard string stores, and enumeration of page-global variables.
type Page interface {
	// Document returns the live document root. Morphing mutates this tree
	// in place.
	Document() *html.Node

	// ReplaceDocument swaps in a new document wholesale. Equivalent to a
	// fresh navigation: implementations reset scroll, focus, and globals.
	ReplaceDocument(doc *html.Node)

	// Parse builds a detached document tree from markup. Parsing never
	// executes embedded scripts.
	Parse(markup string) (*html.Node, error)

	URL() string
	Title() string
	Viewport() (width, height int)

	ScrollOffset() (x, y int)
	SetScroll(x, y int)

	// Focused reports the currently focused element, or nil.
	Focused() *FocusInfo
	// FocusByID focuses the element with the given id. Returns false if no
	// such element exists.
	FocusByID(id string) bool

	// Globals returns the page's global variable namespace (or the subset
	// an implementation can enumerate).
	Globals() map[string]any
	// SetGlobal assigns a global by name only if a same-named global
	// already exists. Returns whether the assignment happened.
	SetGlobal(name string, value any) bool

	// SessionStorage and LocalStorage return shallow views of the
	// session-scoped and origin-scoped string stores.
	SessionStorage() map[string]string
	LocalStorage() map[string]string
	SetSessionItem(key, value string)
	SetLocalItem(key, value string)
}

// ParseDocument parses markup into a detached document tree.
func ParseDocument(markup string) (*html.Node, error) {
	return html.Parse(strings.NewReader(markup))
}

// Head returns the document's head element, or nil.
func Head(doc *html.Node) *html.Node {
	return findElement(doc, atom.Head)
}

// Body returns the document's body element, or nil.
func Body(doc *html.Node) *html.Node {
	return findElement(doc, atom.Body)
}

// FindByID returns the first element under root with the given id attribute.
func FindByID(root *html.Node, id string) *html.Node {
	if root == nil || id == "" {
		return nil
	}
	if root.Type == html.ElementNode {
		for _, a := range root.Attr {
			if a.Key == "id" && a.Val == id {
				return root
			}
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := FindByID(c, id); n != nil {
			return n
		}
	}
	return nil
}

// TitleText returns the trimmed text of the document's title element.
func TitleText(doc *html.Node) string {
	t := findElement(doc, atom.Title)
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(t.FirstChild.Data)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
