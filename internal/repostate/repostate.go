// Package repostate parses `git status --porcelain=v2 --branch` into the
// working tree facts the history driver checks before touching a checkout.
package repostate

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"strings"
)

const (
	// DetachedHead is what git reports as branch.head without a branch
	DetachedHead = "(detached)"

	// InitialCommit is what git reports as branch.oid before the first commit
	InitialCommit = "(initial)"
)

// RepoState is the state of one working tree
type RepoState struct {
	RepoStateID string   `json:"repoStateId"`
	HeadCommit  string   `json:"headCommit"`
	Branch      string   `json:"branch"`
	Detached    bool     `json:"detached"`
	Changes     []string `json:"changes,omitempty"`
	Untracked   int      `json:"untracked"`
}

// Clean reports whether no tracked file is changed, staged or unmerged.
// Untracked files do not block a checkout and are ignored.
func (s *RepoState) Clean() bool {
	return len(s.Changes) == 0
}

// Parse reads porcelain v2 status output produced with --branch
func Parse(output string) (*RepoState, error) {
	state := &RepoState{}
	sawHead := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "# branch.oid "):
			state.HeadCommit = strings.TrimPrefix(line, "# branch.oid ")
		case strings.HasPrefix(line, "# branch.head "):
			sawHead = true
			head := strings.TrimPrefix(line, "# branch.head ")
			if head == DetachedHead {
				state.Detached = true
			} else {
				state.Branch = head
			}
		case strings.HasPrefix(line, "1 "), strings.HasPrefix(line, "2 "), strings.HasPrefix(line, "u "):
			state.Changes = append(state.Changes, entryPath(line))
		case strings.HasPrefix(line, "? "):
			state.Untracked++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHead {
		return nil, fmt.Errorf("status output has no branch.head header")
	}

	state.RepoStateID = computeRepoStateID(state.HeadCommit, state.Branch, state.Changes)
	return state, nil
}

// entryPath returns the path of a changed entry line. Renames carry
// "path<TAB>origPath" as the last field.
func entryPath(line string) string {
	var n int
	switch line[0] {
	case '1':
		n = 8
	case '2':
		n = 9
	case 'u':
		n = 10
	}
	fields := strings.SplitN(line, " ", n+1)
	if len(fields) <= n {
		return line
	}
	path, _, _ := strings.Cut(fields[n], "\t")
	return path
}

// hashString computes SHA256 hash of a string
func hashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// computeRepoStateID identifies a working tree by head, branch and changes
func computeRepoStateID(head, branch string, changes []string) string {
	return hashString(fmt.Sprintf("%s:%s:%s", head, branch, strings.Join(changes, "\x00")))
}
