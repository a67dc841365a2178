package taxonomy

import (
	"sort"
	"strings"

	"codetax/internal/backends"
)

// Batch is a group of rules answered by one backend search. Rules are in
// post-order and Head, the least specific member, is last.
type Batch struct {
	Rules []*Rule
	Head  *Rule
	Paths []string
	Globs []string
}

// Query returns the backend query for the batch, searched with Head's pattern.
func (b Batch) Query() backends.Query {
	return backends.Query{
		Pattern: b.Head.pattern.String(),
		Paths:   b.Paths,
		Globs:   b.Globs,
	}
}

// Plan groups the searchable rules of every requested subtree by template
// and scope. Groups keep the order in which they were first reached and list
// each rule once. A group whose members do not all descend from its last
// member is split so every member is searched by an ancestor's pattern.
// A non-empty paths argument replaces every batch's search paths.
func Plan(requested []*Rule, paths []string) []Batch {
	type group struct {
		members []*Rule
		seen    map[*Rule]bool
	}
	var order []string
	groups := make(map[string]*group)

	for _, req := range requested {
		for _, r := range Enumerate(req, true) {
			if !r.searchable() {
				continue
			}
			k := batchKey(r)
			g, ok := groups[k]
			if !ok {
				g = &group{seen: make(map[*Rule]bool)}
				groups[k] = g
				order = append(order, k)
			}
			if !g.seen[r] {
				g.seen[r] = true
				g.members = append(g.members, r)
			}
		}
	}

	var batches []Batch
	for _, k := range order {
		for _, members := range splitByHead(groups[k].members) {
			head := members[len(members)-1]
			b := Batch{
				Rules: members,
				Head:  head,
				Paths: head.scope.Paths,
				Globs: head.scope.Globs,
			}
			if len(paths) > 0 {
				b.Paths = paths
			}
			batches = append(batches, b)
		}
	}
	return batches
}

// splitByHead partitions members by their topmost ancestor inside the group.
func splitByHead(members []*Rule) [][]*Rule {
	inGroup := make(map[*Rule]bool, len(members))
	for _, r := range members {
		inGroup[r] = true
	}

	headOf := func(r *Rule) *Rule {
		head := r
		for cur := r.parent; cur != nil; cur = cur.parent {
			if inGroup[cur] {
				head = cur
			}
		}
		return head
	}

	var heads []*Rule
	parts := make(map[*Rule][]*Rule)
	for _, r := range members {
		h := headOf(r)
		if _, ok := parts[h]; !ok {
			heads = append(heads, h)
		}
		parts[h] = append(parts[h], r)
	}

	out := make([][]*Rule, 0, len(heads))
	for _, h := range heads {
		part := parts[h]
		// the head is visited after its descendants, keep it last
		if part[len(part)-1] != h {
			rest := make([]*Rule, 0, len(part))
			for _, r := range part {
				if r != h {
					rest = append(rest, r)
				}
			}
			part = append(rest, h)
		}
		out = append(out, part)
	}
	return out
}

func batchKey(r *Rule) string {
	paths := append([]string(nil), r.scope.Paths...)
	globs := append([]string(nil), r.scope.Globs...)
	sort.Strings(paths)
	sort.Strings(globs)
	return r.template + "\x00" + strings.Join(dedupe(paths), "\x01") + "\x00" + strings.Join(dedupe(globs), "\x01")
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
