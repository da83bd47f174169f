// Package validate screens a stored markup encoding before it is ever
// applied to a live page: structural sanity plus a fixed set of
// unsafe-content patterns.
//
// This is best-effort screening, not a security sandbox. It rejects the
// obvious hazards (inline script blocks, javascript: URIs, data:text/html
// URIs) but makes no guarantee against hostile content. Restoration must be
// refused whenever Valid is false.
package validate

import (
	"regexp"
	"strings"
)

// MaxContentBytes is the absolute hard ceiling on stored content (10 MiB).
const MaxContentBytes = 10 << 20

// Result accumulates the outcome of all checks.
type Result struct {
	Valid  bool
	Errors []string
}

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
}

// Validate runs all checks over content. Checks are independent and errors
// accumulate, except the unsafe-pattern scan which reports a single error
// for the first match rather than enumerating all of them.
func Validate(content string) Result {
	var errs []string

	if !strings.Contains(strings.ToLower(content), "<html") {
		errs = append(errs, "missing root element")
	}
	if len(content) == 0 {
		errs = append(errs, "empty content")
	}
	if len(content) > MaxContentBytes {
		errs = append(errs, "content too large")
	}
	for _, pat := range unsafePatterns {
		if pat.MatchString(content) {
			errs = append(errs, "unsafe content detected")
			break
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// Error carries the accumulated validation errors across an API boundary.
type Error struct {
	Errors []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}
