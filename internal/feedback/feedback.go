// Package feedback holds sparse implicit-feedback data: which entities
// (users) touched which items, and when.
//
// Entity and item identifiers are strings at the edges and dense indices
// inside a Matrix. Indices follow the sorted order of the identifiers, so a
// Matrix built from the same records is identical regardless of insertion
// order.
package feedback

import (
	"cmp"
	"fmt"
	"slices"
)

// Record is one feedback event.
type Record struct {
	Entity string
	Item   string
	Time   int64
}

// Entry is one item of an entity's row.
type Entry struct {
	Item int
	Time int64
}

// Matrix is an immutable sparse entity-by-item matrix.
type Matrix struct {
	entities  []string
	items     []string
	entityIdx map[string]int
	itemIdx   map[string]int
	rows      [][]Entry // per entity, by time then item
	consumers [][]int   // per item, entity indices ascending
}

// Build indexes records. Repeated (entity, item) pairs keep the latest time.
func Build(records []Record) *Matrix {
	m := &Matrix{
		entityIdx: make(map[string]int),
		itemIdx:   make(map[string]int),
	}
	for _, r := range records {
		if _, ok := m.entityIdx[r.Entity]; !ok {
			m.entityIdx[r.Entity] = 0
			m.entities = append(m.entities, r.Entity)
		}
		if _, ok := m.itemIdx[r.Item]; !ok {
			m.itemIdx[r.Item] = 0
			m.items = append(m.items, r.Item)
		}
	}
	slices.Sort(m.entities)
	slices.Sort(m.items)
	for i, id := range m.entities {
		m.entityIdx[id] = i
	}
	for i, id := range m.items {
		m.itemIdx[id] = i
	}

	latest := make([]map[int]int64, len(m.entities))
	for _, r := range records {
		u, it := m.entityIdx[r.Entity], m.itemIdx[r.Item]
		if latest[u] == nil {
			latest[u] = make(map[int]int64)
		}
		if ts, ok := latest[u][it]; !ok || r.Time > ts {
			latest[u][it] = r.Time
		}
	}

	m.rows = make([][]Entry, len(m.entities))
	m.consumers = make([][]int, len(m.items))
	for u, row := range latest {
		entries := make([]Entry, 0, len(row))
		for it, ts := range row {
			entries = append(entries, Entry{Item: it, Time: ts})
		}
		slices.SortFunc(entries, func(a, b Entry) int {
			return cmp.Or(cmp.Compare(a.Time, b.Time), cmp.Compare(a.Item, b.Item))
		})
		m.rows[u] = entries
		for _, e := range entries {
			m.consumers[e.Item] = append(m.consumers[e.Item], u)
		}
	}
	return m
}

// Entities returns the number of rows.
func (m *Matrix) Entities() int { return len(m.entities) }

// Items returns the number of columns.
func (m *Matrix) Items() int { return len(m.items) }

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int {
	n := 0
	for _, r := range m.rows {
		n += len(r)
	}
	return n
}

// EntityID returns the identifier of row u.
func (m *Matrix) EntityID(u int) string { return m.entities[u] }

// ItemID returns the identifier of column i.
func (m *Matrix) ItemID(i int) string { return m.items[i] }

// EntityIndex returns the row of the given entity.
func (m *Matrix) EntityIndex(id string) (int, bool) {
	u, ok := m.entityIdx[id]
	return u, ok
}

// ItemIndex returns the column of the given item.
func (m *Matrix) ItemIndex(id string) (int, bool) {
	i, ok := m.itemIdx[id]
	return i, ok
}

// ItemIDs returns all item identifiers in column order.
func (m *Matrix) ItemIDs() []string { return slices.Clone(m.items) }

// Row returns the entries of row u ordered by time.
func (m *Matrix) Row(u int) []Entry { return slices.Clone(m.rows[u]) }

// Recent returns the items of the n most recent entries of row u, oldest
// first. n <= 0 returns the whole row.
func (m *Matrix) Recent(u, n int) []int {
	row := m.rows[u]
	if n > 0 && len(row) > n {
		row = row[len(row)-n:]
	}
	out := make([]int, len(row))
	for i, e := range row {
		out[i] = e.Item
	}
	return out
}

// Consumers returns the rows that touched item i, ascending.
func (m *Matrix) Consumers(i int) []int { return slices.Clone(m.consumers[i]) }

// Seen reports whether row u touched item i.
func (m *Matrix) Seen(u, i int) bool {
	_, ok := slices.BinarySearch(m.consumers[i], u)
	return ok
}

func (m *Matrix) String() string {
	return fmt.Sprintf("feedback.Matrix(%dx%d, nnz=%d)", m.Entities(), m.Items(), m.NNZ())
}
