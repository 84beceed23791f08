package sink

import (
	"strings"
	"sync"
)

// Registry records which tables and columns exist in the current run.
// It starts empty for every run.
type Registry struct {
	mu      sync.RWMutex
	created []string
	columns map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{columns: make(map[string]map[string]struct{})}
}

// MarkCreated records table with its initial columns. It reports false if
// the table was already recorded.
func (r *Registry) MarkCreated(table string, columns []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.columns[table]; ok {
		return false
	}
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[strings.ToLower(c)] = struct{}{}
	}
	r.columns[table] = set
	r.created = append(r.created, table)
	return true
}

// IsCreated reports whether table was created in this run.
func (r *Registry) IsCreated(table string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.columns[table]
	return ok
}

// Created returns the created tables in creation order.
func (r *Registry) Created() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.created...)
}

// SyncColumns replaces the known columns of a created table with what the
// store reports.
func (r *Registry) SyncColumns(table string, columns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.columns[table]; !ok {
		return
	}
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[strings.ToLower(c)] = struct{}{}
	}
	r.columns[table] = set
}

// MissingColumns returns the keys that are not yet columns of table, in
// the order given, compared case-insensitively and deduplicated.
func (r *Registry) MissingColumns(table string, keys []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	known := r.columns[table]
	seen := make(map[string]struct{})
	var missing []string
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, ok := known[lk]; ok {
			continue
		}
		if _, ok := seen[lk]; ok {
			continue
		}
		seen[lk] = struct{}{}
		missing = append(missing, k)
	}
	return missing
}

// AddColumns records columns as present in a created table.
func (r *Registry) AddColumns(table string, columns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.columns[table]
	if !ok {
		return
	}
	for _, c := range columns {
		set[strings.ToLower(c)] = struct{}{}
	}
}
