// Package changes classifies files between two snapshots of a repository.
package changes

import "sort"

// ChangeSet partitions the union of two snapshots. Every path appears in
// exactly one list and each list is sorted.
type ChangeSet struct {
	Added     []string
	Modified  []string
	Removed   []string
	Unchanged []string
}

// Empty reports whether nothing needs to be processed.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Pending returns added and modified paths in sorted order.
func (c ChangeSet) Pending() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	sort.Strings(out)
	return out
}

// Diff compares previous and current path→hash maps. With force set,
// every path present in both snapshots is reported as modified.
func Diff(prev, curr map[string]string, force bool) ChangeSet {
	var cs ChangeSet
	for p, hash := range curr {
		old, ok := prev[p]
		switch {
		case !ok:
			cs.Added = append(cs.Added, p)
		case force || old != hash:
			cs.Modified = append(cs.Modified, p)
		default:
			cs.Unchanged = append(cs.Unchanged, p)
		}
	}
	for p := range prev {
		if _, ok := curr[p]; !ok {
			cs.Removed = append(cs.Removed, p)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Unchanged)
	return cs
}

// Limit caps the number of added plus modified paths to max, keeping
// additions first. Deferred paths are returned separately. Removals are
// never deferred. A max of zero or less means no limit.
func (c ChangeSet) Limit(max int) (ChangeSet, []string) {
	if max <= 0 || len(c.Added)+len(c.Modified) <= max {
		return c, nil
	}

	out := ChangeSet{Removed: c.Removed, Unchanged: c.Unchanged}
	var deferred []string

	for _, p := range c.Added {
		if len(out.Added) < max {
			out.Added = append(out.Added, p)
		} else {
			deferred = append(deferred, p)
		}
	}
	for _, p := range c.Modified {
		if len(out.Added)+len(out.Modified) < max {
			out.Modified = append(out.Modified, p)
		} else {
			deferred = append(deferred, p)
		}
	}
	sort.Strings(deferred)
	return out, deferred
}

// Promote moves the given unchanged paths to Modified. Paths that are
// not unchanged are ignored.
func (c ChangeSet) Promote(paths []string) ChangeSet {
	if len(paths) == 0 {
		return c
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}

	out := ChangeSet{Added: c.Added, Removed: c.Removed}
	out.Modified = append(out.Modified, c.Modified...)
	for _, p := range c.Unchanged {
		if want[p] {
			out.Modified = append(out.Modified, p)
		} else {
			out.Unchanged = append(out.Unchanged, p)
		}
	}
	sort.Strings(out.Modified)
	return out
}
