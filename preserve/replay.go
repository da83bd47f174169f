package preserve

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/basicsharp/chrome-dom-snap/page"
)

// ReplayOptions tunes replay scheduling.
type ReplayOptions struct {
	Logger *slog.Logger
	// Stale is checked by delayed callbacks (scroll retries, focus). It
	// should report true once a newer restoration has started, so stale
	// callbacks no-op instead of firing against the new document state.
	Stale func() bool
	// ScrollDelays are the retry offsets for scroll restoration. A single
	// immediate attempt is unreliable while the morph is still settling
	// layout. Defaults to 10/50/100 ms.
	ScrollDelays []time.Duration
	// FocusDelay is the single delayed focus attempt. Defaults to 150 ms.
	FocusDelay time.Duration
}

func (o *ReplayOptions) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Stale == nil {
		o.Stale = func() bool { return false }
	}
	if len(o.ScrollDelays) == 0 {
		o.ScrollDelays = []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond}
	}
	if o.FocusDelay <= 0 {
		o.FocusDelay = 150 * time.Millisecond
	}
}

// Replay applies a captured State onto the page after its tree has been
// morphed. Each field is restored independently and best-effort; scroll and
// focus are restored via fire-and-forget delayed callbacks guarded by
// opts.Stale.
func Replay(p page.Page, st *State, opts ReplayOptions) {
	opts.defaults()
	logger := opts.Logger

	step(logger, "globals", func() {
		for name, v := range st.Globals {
			// Only restore if a same-named global survived restoration.
			p.SetGlobal(name, v)
		}
	})
	step(logger, "inputs", func() {
		replayInputs(p.Document(), st)
	})
	step(logger, "forms", func() {
		replayForms(p.Document(), st)
	})
	step(logger, "session_storage", func() {
		for k, v := range st.SessionStorage {
			p.SetSessionItem(k, v)
		}
	})
	step(logger, "local_storage", func() {
		for k, v := range st.LocalStorage {
			p.SetLocalItem(k, v)
		}
	})

	for _, d := range opts.ScrollDelays {
		time.AfterFunc(d, func() {
			if opts.Stale() {
				return
			}
			step(logger, "scroll", func() {
				if x, y := p.ScrollOffset(); x != st.ScrollX || y != st.ScrollY {
					p.SetScroll(st.ScrollX, st.ScrollY)
				}
			})
		})
	}

	if st.Focus != nil && st.Focus.ID != "" {
		id := st.Focus.ID
		time.AfterFunc(opts.FocusDelay, func() {
			if opts.Stale() {
				return
			}
			step(logger, "focus", func() {
				// Relocated by id only; silently skipped if gone.
				p.FocusByID(id)
			})
		})
	}
}

func replayInputs(doc *html.Node, st *State) {
	root := goquery.NewDocumentFromNode(doc)
	controls := root.Find("input, textarea, select")
	for key, iv := range st.Inputs {
		sel := locateControl(root, controls, key)
		if sel == nil {
			continue
		}
		applyControlValue(sel, iv)
	}
}

// locateControl re-finds a control using the capture key scheme: id first,
// then name attribute, then the positional fallback over the current
// control set.
func locateControl(root *goquery.Document, controls *goquery.Selection, key string) *goquery.Selection {
	if sel := root.Find("#" + key); sel.Length() > 0 {
		return sel.First()
	}
	if sel := controls.Filter(fmt.Sprintf("[name=%q]", key)); sel.Length() > 0 {
		return sel.First()
	}
	var index int
	if n, err := fmt.Sscanf(key, "input-%d", &index); err == nil && n == 1 {
		if sel := controls.Eq(index); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func applyControlValue(sel *goquery.Selection, iv InputValue) {
	n := sel.Get(0)
	switch {
	case iv.Kind == "checkbox" || iv.Kind == "radio":
		if iv.Checked {
			setNodeAttr(n, "checked", "checked")
		} else {
			removeNodeAttr(n, "checked")
		}
	case iv.Kind == "select" || n.Data == "select":
		applySelectedIndex(sel, iv.SelectedIndex)
	case n.Data == "textarea":
		setTextContent(n, iv.Value)
	default:
		setNodeAttr(n, "value", iv.Value)
	}
}

func applySelectedIndex(sel *goquery.Selection, index int) {
	sel.Find("option").Each(func(i int, opt *goquery.Selection) {
		n := opt.Get(0)
		if i == index {
			setNodeAttr(n, "selected", "selected")
		} else {
			removeNodeAttr(n, "selected")
		}
	})
}

// replayForms fills form fields that are still empty after the per-input
// pass, so values the per-input pass already set are never overwritten.
func replayForms(doc *html.Node, st *State) {
	root := goquery.NewDocumentFromNode(doc)
	forms := root.Find("form")
	for key, fields := range st.Forms {
		form := locateForm(root, forms, key)
		if form == nil {
			continue
		}
		for name, value := range fields {
			ctl := form.Find(fmt.Sprintf("input[name=%q], textarea[name=%q], select[name=%q]", name, name, name)).First()
			if ctl.Length() == 0 {
				continue
			}
			if controlValue(ctl).Value != "" {
				continue
			}
			applyControlValue(ctl, InputValue{Value: value})
		}
	}
}

func locateForm(root *goquery.Document, forms *goquery.Selection, key string) *goquery.Selection {
	if sel := root.Find("form#" + key); sel.Length() > 0 {
		return sel.First()
	}
	var index int
	if n, err := fmt.Sscanf(key, "form-%d", &index); err == nil && n == 1 {
		if sel := forms.Eq(index); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func setNodeAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeNodeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func setTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
