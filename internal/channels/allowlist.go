package channels

import (
	"strings"
	"sync"
)

// AllowList restricts which senders the adapter accepts. Each entry may
// carry several aliases separated by "|" (for example "12345|alice"),
// matching any identity the platform reports for the sender. An empty
// list allows everyone.
type AllowList struct {
	entries [][]string
}

// NewAllowList parses the configured entries.
func NewAllowList(entries []string) *AllowList {
	list := &AllowList{}
	for _, entry := range entries {
		var aliases []string
		for _, alias := range strings.Split(entry, "|") {
			alias = strings.TrimSpace(alias)
			if alias != "" {
				aliases = append(aliases, strings.ToLower(alias))
			}
		}
		if len(aliases) > 0 {
			list.entries = append(list.entries, aliases)
		}
	}
	return list
}

// Allowed reports whether any of the sender's identities (id, username,
// display name) matches an entry alias. Matching is case-insensitive.
func (l *AllowList) Allowed(identities ...string) bool {
	if len(l.entries) == 0 {
		return true
	}
	for _, identity := range identities {
		identity = strings.ToLower(strings.TrimSpace(identity))
		if identity == "" {
			continue
		}
		for _, aliases := range l.entries {
			for _, alias := range aliases {
				if alias == identity {
					return true
				}
			}
		}
	}
	return false
}

// Dedup remembers the last N message ids so redelivered platform events
// are processed once.
type Dedup struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
}

// NewDedup creates a dedup window of the given capacity.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 512
	}
	return &Dedup{cap: capacity, seen: make(map[string]struct{})}
}

// Seen records id and reports whether it was already present. Empty ids
// are never deduplicated.
func (d *Dedup) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}
