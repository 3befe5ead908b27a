// Package policy implements the built-in permission strategies and the
// glob matching used to compare capability patterns.
package policy

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matches reports whether candidate matches a capability pattern. The
// pattern grammar is doublestar globbing: `*` matches within a path
// segment, `**` spans segments. An invalid pattern matches nothing.
func Matches(pattern, candidate string) bool {
	pattern = filepath.ToSlash(pattern)
	candidate = filepath.ToSlash(candidate)
	ok, err := doublestar.Match(pattern, candidate)
	if err != nil {
		return false
	}
	return ok
}

// Covers reports whether a granted pattern subsumes a requested one.
// Exact equality always covers. A grant ending in `/**` covers any
// request under its prefix, including the prefix directory itself.
func Covers(grant, request string) bool {
	grant = filepath.ToSlash(grant)
	request = filepath.ToSlash(request)
	if grant == request {
		return true
	}
	if prefix, ok := strings.CutSuffix(grant, "/**"); ok {
		if request == prefix {
			return true
		}
		if strings.HasPrefix(request, prefix+"/") {
			return true
		}
	}
	return Matches(grant, request)
}
