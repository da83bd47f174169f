// Package morph mutates a live document tree minimally in place to match a
// target tree, preserving untouched nodes and whatever behavior is attached
// to them.
//
// The diff is positional (index-aligned), not keyed: reordered siblings are
// seen as a run of content replacements, not moves. Known limitation; a
// keyed reconciliation would change morph semantics and is deliberately not
// attempted here.
package morph

import (
	"slices"

	"golang.org/x/net/html"
)

// Stats counts the mutations one Morph call performed. A zero Stats means
// the live tree already matched the target.
type Stats struct {
	AttrsSet      int
	AttrsRemoved  int
	TextUpdates   int
	NodesAppended int
	NodesRemoved  int
	NodesReplaced int
}

// Total is the overall mutation count.
func (s Stats) Total() int {
	return s.AttrsSet + s.AttrsRemoved + s.TextUpdates +
		s.NodesAppended + s.NodesRemoved + s.NodesReplaced
}

func (s *Stats) add(o Stats) {
	s.AttrsSet += o.AttrsSet
	s.AttrsRemoved += o.AttrsRemoved
	s.TextUpdates += o.TextUpdates
	s.NodesAppended += o.NodesAppended
	s.NodesRemoved += o.NodesRemoved
	s.NodesReplaced += o.NodesReplaced
}

// Morph patches live's subtree in place to match target's shape and returns
// the mutations performed. target is never modified; nodes copied out of it
// are deep clones.
func Morph(live, target *html.Node) Stats {
	var st Stats
	morphNode(live, target, &st)
	return st
}

func morphNode(live, target *html.Node, st *Stats) {
	if Equal(live, target) {
		return
	}

	if live.Type == html.ElementNode && target.Type == html.ElementNode {
		syncAttrs(live, target, st)
	}

	liveKids := childList(live)
	targetKids := childList(target)
	n := max(len(liveKids), len(targetKids))

	for i := 0; i < n; i++ {
		switch {
		case i >= len(liveKids):
			live.AppendChild(Clone(targetKids[i]))
			st.NodesAppended++

		case i >= len(targetKids):
			live.RemoveChild(liveKids[i])
			st.NodesRemoved++

		case liveKids[i].Type == html.TextNode && targetKids[i].Type == html.TextNode:
			if liveKids[i].Data != targetKids[i].Data {
				liveKids[i].Data = targetKids[i].Data
				st.TextUpdates++
			}

		case liveKids[i].Type == html.ElementNode && targetKids[i].Type == html.ElementNode &&
			liveKids[i].Data == targetKids[i].Data:
			morphNode(liveKids[i], targetKids[i], st)

		default:
			// Different tags or mismatched node kinds: swap in a clone.
			live.InsertBefore(Clone(targetKids[i]), liveKids[i])
			live.RemoveChild(liveKids[i])
			st.NodesReplaced++
		}
	}
}

// syncAttrs removes live attributes absent on target, then writes target
// attributes whose value differs. Unchanged attributes are never rewritten,
// so observers and style recalculation are not retriggered for them.
func syncAttrs(live, target *html.Node, st *Stats) {
	targetVals := make(map[string]string, len(target.Attr))
	for _, a := range target.Attr {
		targetVals[a.Key] = a.Val
	}

	kept := live.Attr[:0]
	for _, a := range live.Attr {
		if _, ok := targetVals[a.Key]; ok {
			kept = append(kept, a)
		} else {
			st.AttrsRemoved++
		}
	}
	live.Attr = kept

	for _, ta := range target.Attr {
		if cur, ok := attrValue(live, ta.Key); !ok || cur != ta.Val {
			setAttr(live, ta.Key, ta.Val)
			st.AttrsSet++
		}
	}
}

// Equal reports deep structural and content equality between two nodes.
// Attribute order is ignored.
func Equal(a, b *html.Node) bool {
	if a.Type != b.Type || a.Data != b.Data || a.Namespace != b.Namespace {
		return false
	}
	if len(a.Attr) != len(b.Attr) {
		return false
	}
	for _, attr := range a.Attr {
		if bv, ok := attrValue(b, attr.Key); !ok || bv != attr.Val {
			return false
		}
	}
	ac, bc := a.FirstChild, b.FirstChild
	for ac != nil && bc != nil {
		if !Equal(ac, bc) {
			return false
		}
		ac, bc = ac.NextSibling, bc.NextSibling
	}
	return ac == nil && bc == nil
}

// Clone deep-copies a node into a detached tree.
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      slices.Clone(n.Attr),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(Clone(ch))
	}
	return c
}

func childList(n *html.Node) []*html.Node {
	var kids []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, c)
	}
	return kids
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
