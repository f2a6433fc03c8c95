package bridge

import (
	"sort"
	"strings"
	"sync"
)

// Table is the registry of supervised children, keyed by internal child id.
// The daemon loop owns all mutation; the mutex only covers the map against
// concurrent snapshot reads.
type Table struct {
	mu       sync.Mutex
	children map[uint64]*Child
}

// NewTable returns an empty process table.
func NewTable() *Table {
	return &Table{children: make(map[uint64]*Child)}
}

// Add registers a child.
func (t *Table) Add(c *Child) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children[c.ID] = c
}

// Remove deletes a child by id.
func (t *Table) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.children, id)
}

// Len returns the number of registered children.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.children)
}

// Snapshot returns the children ordered by id.
func (t *Table) Snapshot() []*Child {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Child, 0, len(t.children))
	for _, c := range t.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForDevice returns every child whose job name embeds the device address.
// Job names are bt_in_<MAC>, bt_out_<MAC>, bt_sco_<MAC>, so a substring
// match is the duplicate-prevention and teardown key.
func (t *Table) ForDevice(addr string) []*Child {
	if addr == "" {
		return nil
	}
	var out []*Child
	for _, c := range t.Snapshot() {
		if strings.Contains(c.Name, addr) {
			out = append(out, c)
		}
	}
	return out
}

// HasDevice reports whether any child's job name embeds the address.
func (t *Table) HasDevice(addr string) bool {
	return len(t.ForDevice(addr)) > 0
}
