// Package wildcard matches hierarchical dot-delimited event types against
// subscription filter patterns.
//
// A pattern is a plain event type where `*` stands for "zero or more of any
// character", within or across dot segments. Matching is anchored at both
// ends and case-sensitive, so a pattern without wildcards requires exact
// equality.
//
//	wildcard.Match("airtable.tbl1.records.created", "airtable.*.records.*") // true
//	wildcard.Match("airtable.tbl1.records.created", "airtable.tbl2.*")      // false
package wildcard

import (
	"regexp"
	"strings"

	"github.com/dmitrymomot/hookrelay/pkg/cache"
)

// compiled caches pattern regexps. Patterns are tenant-supplied, so the
// cache is bounded rather than allowed to grow with whatever subscribers
// register.
var compiled = cache.NewLRU[string, *regexp.Regexp](4096)

// Match reports whether eventType satisfies pattern.
// Invalid patterns never match.
func Match(eventType, pattern string) bool {
	re, err := Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(eventType)
}

// Compile translates a wildcard pattern into an anchored regexp.
// Every literal character is escaped, including all dots, so only `*`
// carries meaning inside a pattern.
func Compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := compiled.Get(pattern); ok {
		return cached, nil
	}

	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}

	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, err
	}

	compiled.Put(pattern, re)
	return re, nil
}
