// Package preserve snapshots the transient, non-DOM runtime state of a page
// (form values, scroll, focus, the two string stores, heuristically
// identified globals) and replays it after the tree has been morphed.
//
// Every field is handled independently and best-effort: a failure in one
// step is logged and never aborts the others.
package preserve

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/basicsharp/chrome-dom-snap/page"
)

// InputValue is the captured runtime value of one form control.
type InputValue struct {
	Kind          string // "checkbox", "radio", "select", or "" for plain values
	Value         string
	Checked       bool
	SelectedIndex int
}

// State is one capture of a page's transient runtime state. Constructed
// immediately before a non-destructive restoration, consumed and discarded
// immediately after; never persisted.
type State struct {
	ScrollX int
	ScrollY int
	Focus   *page.FocusInfo
	// Inputs is keyed by element id, falling back to the name attribute,
	// falling back to the positional key "input-<index>".
	Inputs map[string]InputValue
	// Forms holds a flat name→value map per form, keyed by form id or
	// "form-<index>". Redundant fallback for controls the per-input pass
	// misses.
	Forms          map[string]map[string]string
	SessionStorage map[string]string
	LocalStorage   map[string]string
	Globals        map[string]any
}

// Capture snapshots the page's runtime state. logger may be nil.
func Capture(p page.Page, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	st := &State{
		Inputs:         make(map[string]InputValue),
		Forms:          make(map[string]map[string]string),
		SessionStorage: make(map[string]string),
		LocalStorage:   make(map[string]string),
		Globals:        make(map[string]any),
	}

	step(logger, "scroll", func() {
		st.ScrollX, st.ScrollY = p.ScrollOffset()
	})
	step(logger, "focus", func() {
		st.Focus = p.Focused()
	})
	step(logger, "inputs", func() {
		captureInputs(p.Document(), st)
	})
	step(logger, "forms", func() {
		captureForms(p.Document(), st)
	})
	step(logger, "session_storage", func() {
		for k, v := range p.SessionStorage() {
			st.SessionStorage[k] = v
		}
	})
	step(logger, "local_storage", func() {
		for k, v := range p.LocalStorage() {
			st.LocalStorage[k] = v
		}
	})
	step(logger, "globals", func() {
		for name, v := range p.Globals() {
			if IsStateVariable(name, v) {
				st.Globals[name] = v
			}
		}
	})

	return st
}

// step isolates one capture/replay field: panics are logged, not propagated.
func step(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("preserve: step failed", "step", name, "panic", r)
		}
	}()
	fn()
}

func captureInputs(doc *html.Node, st *State) {
	root := goquery.NewDocumentFromNode(doc)
	root.Find("input, textarea, select").Each(func(i int, sel *goquery.Selection) {
		key := controlKey(sel, i)
		st.Inputs[key] = controlValue(sel)
	})
}

func captureForms(doc *html.Node, st *State) {
	root := goquery.NewDocumentFromNode(doc)
	root.Find("form").Each(func(i int, form *goquery.Selection) {
		key, _ := form.Attr("id")
		if key == "" {
			key = fmt.Sprintf("form-%d", i)
		}
		fields := make(map[string]string)
		form.Find("input[name], textarea[name], select[name]").Each(func(_ int, sel *goquery.Selection) {
			name, _ := sel.Attr("name")
			fields[name] = controlValue(sel).Value
		})
		st.Forms[key] = fields
	})
}

func controlKey(sel *goquery.Selection, index int) string {
	if id, ok := sel.Attr("id"); ok && id != "" {
		return id
	}
	if name, ok := sel.Attr("name"); ok && name != "" {
		return name
	}
	return fmt.Sprintf("input-%d", index)
}

func controlValue(sel *goquery.Selection) InputValue {
	n := sel.Get(0)
	switch n.Data {
	case "select":
		return selectValue(sel)
	case "textarea":
		return InputValue{Value: sel.Text()}
	default:
		typ, _ := sel.Attr("type")
		typ = strings.ToLower(typ)
		if typ == "checkbox" || typ == "radio" {
			_, checked := sel.Attr("checked")
			val, _ := sel.Attr("value")
			return InputValue{Kind: typ, Value: val, Checked: checked}
		}
		val, _ := sel.Attr("value")
		return InputValue{Value: val}
	}
}

func selectValue(sel *goquery.Selection) InputValue {
	iv := InputValue{Kind: "select", SelectedIndex: -1}
	sel.Find("option").Each(func(i int, opt *goquery.Selection) {
		if iv.SelectedIndex < 0 {
			// A select with options defaults to the first one.
			iv.SelectedIndex = 0
			iv.Value = optionValue(opt)
		}
		if _, selected := opt.Attr("selected"); selected {
			iv.SelectedIndex = i
			iv.Value = optionValue(opt)
		}
	})
	return iv
}

// optionValue follows HTML semantics: an option's value defaults to its text
// when the value attribute is absent.
func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.Text())
}
