// The KEYS command of the Redis port filters cache keys with glob patterns; the following module implements
// glob matching over key streams.

package scan

import (
	"iter"

	"v.io/v23/glob"
)

// MatchKeys yields the keys of `keys` matching the glob `pattern`. An invalid pattern matches nothing.
func MatchKeys(pattern string, keys iter.Seq[string]) iter.Seq[string] {
	parsedPattern, err := glob.Parse(pattern)
	if err != nil {
		return func(yield func(string) bool) {}
	}
	head := parsedPattern.Head()
	return func(yield func(string) bool) {
		for key := range keys {
			if head.Match(key) && !yield(key) {
				return
			}
		}
	}
}
