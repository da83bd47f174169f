package preserve

import "strings"

// stateAllowList is the fixed set of common state-variable names captured
// unconditionally.
var stateAllowList = map[string]struct{}{
	"counter":       {},
	"count":         {},
	"items":         {},
	"data":          {},
	"state":         {},
	"appState":      {},
	"timerValue":    {},
	"timerInterval": {},
	"itemCounter":   {},
	"isAnimated":    {},
}

// IsStateVariable reports whether a page-global looks like application state
// worth carrying across a hot restore. Intentionally approximate: an
// allow-list of common names, plus numeric variables whose name suggests a
// counter or timer, plus boolean variables whose name suggests an
// animation/activity flag.
func IsStateVariable(name string, value any) bool {
	if _, ok := stateAllowList[name]; ok {
		return true
	}
	lower := strings.ToLower(name)
	if strings.Contains(lower, "count") || strings.Contains(lower, "timer") {
		return isNumeric(value)
	}
	if strings.Contains(lower, "animated") || strings.Contains(lower, "active") {
		_, ok := value.(bool)
		return ok
	}
	return false
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
