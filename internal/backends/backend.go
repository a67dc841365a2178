// Package backends defines the text-search collaborator used by the taxonomy
// engine and the types it streams back.
package backends

import (
	"context"
	"strings"
)

// BackendID uniquely identifies a backend type
type BackendID string

const (
	// BackendRipgrep shells out to the rg binary
	BackendRipgrep BackendID = "rg"
	// BackendNative walks the tree with Go's regexp engine
	BackendNative BackendID = "native"
)

// Match is one matched position reported by a search backend.
// A line with several submatches yields one Match per submatch.
type Match struct {
	// Path is the file path as reported by the backend (relative to the
	// search path argument, including it)
	Path string `json:"path"`

	// LineNumber is 1-based
	LineNumber int `json:"line_number"`

	// Line is the full line text, including any trailing newline
	Line string `json:"lines"`

	// Text is the matched substring
	Text string `json:"match"`

	// Start and End are byte offsets of Text within Line
	Start int `json:"start"`
	End   int `json:"end"`
}

// Query is a single physical search.
type Query struct {
	// Pattern is the regular expression source
	Pattern string

	// Paths are the roots to search
	Paths []string

	// Globs are include globs, or exclude globs when prefixed with "!"
	Globs []string
}

// MatchFunc receives matches in backend order. Returning an error stops
// the search and the error is returned from Search.
type MatchFunc func(Match) error

// SearchBackend is the base interface that all search backends implement.
// Search results are streamed exactly once and are not restartable.
type SearchBackend interface {
	// ID returns the unique identifier for this backend
	ID() BackendID

	// IsAvailable checks if this backend can run on this host
	IsAvailable() bool

	// Search runs q and streams each match to fn
	Search(ctx context.Context, q Query, fn MatchFunc) error
}

// SplitGlobs separates include globs from "!"-prefixed exclude globs.
// The returned excludes have the "!" removed.
func SplitGlobs(globs []string) (includes, excludes []string) {
	for _, g := range globs {
		if rest, ok := strings.CutPrefix(g, "!"); ok {
			excludes = append(excludes, rest)
			continue
		}
		includes = append(includes, g)
	}
	return includes, excludes
}
