package snapstore

import "net/url"

// NormalizeURL produces the grouping key for a page URL: the hash fragment
// is always stripped; the query string is kept unless dropQuery is set.
// Unparseable input is returned as-is so it still groups consistently with
// itself.
func NormalizeURL(raw string, dropQuery bool) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	if dropQuery {
		u.RawQuery = ""
	}
	return u.String()
}
