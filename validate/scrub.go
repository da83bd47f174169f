package validate

import "github.com/microcosm-cc/bluemonday"

// scrubPolicy keeps document structure and form markup while stripping
// scripts, event handlers, and executable URI schemes.
var scrubPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDocType(true)
	p.AllowElements(
		"html", "head", "body", "title", "style", "meta", "link",
		"form", "input", "textarea", "select", "option", "button", "label",
	)
	p.AllowAttrs("id", "name", "class", "style", "type", "value", "checked",
		"selected", "placeholder", "for", "content", "charset", "rel").Globally()
	return p
}()

// Scrub returns a best-effort cleaned copy of content with unsafe markup
// removed. Intended for callers that want to materialize flagged content
// anyway (for example a read-only preview); it does not make Validate pass
// retroactively and is no more a security guarantee than Validate itself.
func Scrub(content string) string {
	return scrubPolicy.Sanitize(content)
}
