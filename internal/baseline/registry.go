// Package baseline is the durable registry of approved duplicate blocks,
// keyed by block id and version.
package baseline

import (
	"sort"
	"strings"
	"time"

	"tangle/internal/duplicates"
)

// FormatVersion is written into every file-backed registry.
const FormatVersion = 1

// Registry maps id:version to the approved normalized content. It is not
// safe for concurrent mutation; lookups during a run are read-only.
type Registry struct {
	updated time.Time
	entries map[string]duplicates.BaselineEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]duplicates.BaselineEntry)}
}

func key(id, version string) string {
	return strings.ToLower(id) + ":" + version
}

// Lookup implements duplicates.Baseline. Ids match case-insensitively.
func (r *Registry) Lookup(id, version string) (duplicates.BaselineEntry, bool) {
	e, ok := r.entries[key(id, version)]
	return e, ok
}

// Put stores or replaces one entry.
func (r *Registry) Put(e duplicates.BaselineEntry) {
	r.entries[key(e.ID, e.Version)] = e
}

// Remove deletes an entry and reports whether it existed.
func (r *Registry) Remove(id, version string) bool {
	k := key(id, version)
	_, ok := r.entries[k]
	delete(r.entries, k)
	return ok
}

// RegisterResult is what Register changed.
type RegisterResult struct {
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Conflicts []string `json:"conflicts"`
}

// Register records the current state of prepared blocks. A block whose
// copies disagree is not registered and is reported as a conflict; the
// first copy in path order is the one stored.
func (r *Registry) Register(blocks []duplicates.Block) RegisterResult {
	groups := make(map[string][]duplicates.Block)
	var keys []string
	for _, b := range blocks {
		k := key(b.ID, b.Version)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], b)
	}
	sort.Strings(keys)

	var res RegisterResult
	for _, k := range keys {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Location.Path != group[j].Location.Path {
				return group[i].Location.Path < group[j].Location.Path
			}
			return group[i].Location.StartLine < group[j].Location.StartLine
		})
		first := group[0]
		conflict := false
		for _, b := range group[1:] {
			if b.Hash != first.Hash {
				conflict = true
				break
			}
		}
		label := first.Key()
		if conflict {
			res.Conflicts = append(res.Conflicts, label)
			continue
		}

		entry := duplicates.BaselineEntry{
			ID:         first.ID,
			Version:    first.Version,
			Tolerance:  first.Tolerance,
			Hash:       first.Hash,
			Normalized: first.Normalized,
			Path:       first.Location.Path,
			StartLine:  first.Location.StartLine,
			EndLine:    first.Location.EndLine,
		}
		prev, existed := r.entries[k]
		switch {
		case !existed:
			res.Added = append(res.Added, label)
		case prev.Hash != entry.Hash || prev.Tolerance != entry.Tolerance:
			res.Updated = append(res.Updated, label)
		default:
			res.Unchanged = append(res.Unchanged, label)
		}
		r.entries[k] = entry
	}
	r.updated = time.Now().UTC()
	return res
}

// Entries returns every entry ordered by id then version.
func (r *Registry) Entries() []duplicates.BaselineEntry {
	out := make([]duplicates.BaselineEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !strings.EqualFold(out[i].ID, out[j].ID) {
			return strings.ToLower(out[i].ID) < strings.ToLower(out[j].ID)
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Len is the number of registered blocks.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Updated is when Register last ran, zero if never.
func (r *Registry) Updated() time.Time {
	return r.updated
}
