// Package restore reconstructs a page from a stored markup encoding, either
// destructively (full document replacement, equivalent to a fresh
// navigation) or non-destructively ("hot": capture state, morph the live
// tree in place, replay state).
package restore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/basicsharp/chrome-dom-snap/morph"
	"github.com/basicsharp/chrome-dom-snap/page"
	"github.com/basicsharp/chrome-dom-snap/preserve"
	"github.com/basicsharp/chrome-dom-snap/validate"
)

// ErrTimeout is returned when a restoration exceeds its wall-clock budget.
// The document is left in whatever partial state it reached: there is no
// rollback.
var ErrTimeout = errors.New("restoration timed out")

// ErrConfirmationRequired is returned by destructive operations when the
// caller has not attested that the user consent gate was passed.
var ErrConfirmationRequired = errors.New("confirmation required for destructive operation")

// DefaultTimeout is the default restoration budget.
const DefaultTimeout = 5 * time.Second

// Options is per-call restoration configuration. Strategy selection is
// explicit at the call site (Destructive vs HotReload); there is no hidden
// process-wide mode.
type Options struct {
	// Timeout is the wall-clock budget. 0 means DefaultTimeout.
	Timeout time.Duration
	// Force attests that the caller already passed the human consent gate.
	// Destructive restoration refuses to run without it.
	Force bool
}

// Flusher is implemented by pages that buffer tree mutations (the CDP-backed
// page) and need an explicit push after morphing.
type Flusher interface {
	Flush() error
}

// Restorer executes restoration strategies. It tags every hot restoration
// with a monotonic generation so that delayed replay callbacks from an older
// restoration no-op once a newer one has started.
type Restorer struct {
	logger *slog.Logger
	gen    atomic.Uint64
}

// New creates a Restorer. logger may be nil.
func New(logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{logger: logger}
}

// Destructive parses content as a full document and replaces the live
// document wholesale. Fast and simple, but all JavaScript runtime state,
// listeners, and timers are gone; the result is equivalent to a fresh
// navigation to the snapshot content.
//
// Content must have passed validation; Destructive re-checks and refuses
// rather than trusting the caller.
func (r *Restorer) Destructive(p page.Page, content string, opts Options) error {
	if !opts.Force {
		return fmt.Errorf("restore: destructive: %w", ErrConfirmationRequired)
	}
	if res := validate.Validate(content); !res.Valid {
		return &validate.Error{Errors: res.Errors}
	}
	return r.run("destructive", opts, func() error {
		// Parsing only builds a tree; embedded scripts never execute.
		target, err := p.Parse(content)
		if err != nil {
			return fmt.Errorf("restore: parse: %w", err)
		}
		p.ReplaceDocument(target)
		return flush(p)
	})
}

// HotReload restores content without replacing the document: parse a
// detached target, capture runtime state, special-case the head, morph the
// body in place, then replay the captured state.
func (r *Restorer) HotReload(p page.Page, content string, opts Options) error {
	if res := validate.Validate(content); !res.Valid {
		return &validate.Error{Errors: res.Errors}
	}
	gen := r.gen.Add(1)
	stale := func() bool { return r.gen.Load() != gen }

	return r.run("hot", opts, func() error {
		target, err := p.Parse(content)
		if err != nil {
			return fmt.Errorf("restore: parse: %w", err)
		}

		state := preserve.Capture(p, r.logger)

		updateHead(p.Document(), target)

		liveBody := page.Body(p.Document())
		targetBody := page.Body(target)
		if liveBody == nil || targetBody == nil {
			return errors.New("restore: document has no body element")
		}
		stats := morph.Morph(liveBody, targetBody)
		r.logger.Debug("restore: body morphed",
			"mutations", stats.Total(),
			"appended", stats.NodesAppended,
			"removed", stats.NodesRemoved,
			"replaced", stats.NodesReplaced)

		if err := flush(p); err != nil {
			return err
		}

		preserve.Replay(p, state, preserve.ReplayOptions{
			Logger: r.logger,
			Stale:  stale,
		})
		return nil
	})
}

// run enforces the wall-clock budget with a caller-side timer. The strategy
// body is not preemptible: on timeout it keeps running in its goroutine and
// the document may be left partially restored.
func (r *Restorer) run(strategy string, opts Options, fn func() error) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("restore: %s: %w after %s", strategy, ErrTimeout, timeout)
	}
}

func flush(p page.Page) error {
	if f, ok := p.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// updateHead aligns the live head with the target head while keeping the
// live page's externally-sourced scripts in place, so they are neither
// re-fetched nor re-executed. Target head children are appended except
// external scripts whose src duplicates a preserved one; the preserved
// scripts are re-appended, unchanged, at the end.
func updateHead(liveDoc, targetDoc *html.Node) {
	liveHead := page.Head(liveDoc)
	targetHead := page.Head(targetDoc)
	if liveHead == nil || targetHead == nil {
		return
	}

	var preserved []*html.Node
	preservedSrc := make(map[string]bool)
	for c := liveHead.FirstChild; c != nil; {
		next := c.NextSibling
		liveHead.RemoveChild(c)
		if src := scriptSrc(c); src != "" {
			preserved = append(preserved, c)
			preservedSrc[src] = true
		}
		c = next
	}

	for c := targetHead.FirstChild; c != nil; c = c.NextSibling {
		if src := scriptSrc(c); src != "" && preservedSrc[src] {
			continue
		}
		liveHead.AppendChild(morph.Clone(c))
	}

	for _, s := range preserved {
		liveHead.AppendChild(s)
	}
}

func scriptSrc(n *html.Node) string {
	if n.Type != html.ElementNode || n.DataAtom != atom.Script {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == "src" {
			return a.Val
		}
	}
	return ""
}
