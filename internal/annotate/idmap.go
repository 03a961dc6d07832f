package annotate

import "sync"

// IDMap translates surface-local annotation identifiers into durable backend
// identifiers. One map belongs to one document open.
type IDMap struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewIDMap returns an empty map.
func NewIDMap() *IDMap {
	return &IDMap{entries: make(map[string]string)}
}

// Register records the mapping; the last registration for a surface id wins.
func (m *IDMap) Register(surfaceID, durableID string) {
	if surfaceID == "" || durableID == "" {
		return
	}
	m.mu.Lock()
	m.entries[surfaceID] = durableID
	m.mu.Unlock()
}

// Resolve returns the durable id for the surface id.
func (m *IDMap) Resolve(surfaceID string) (string, bool) {
	m.mu.RLock()
	durableID, ok := m.entries[surfaceID]
	m.mu.RUnlock()
	return durableID, ok
}

// Forget removes the mapping if present.
func (m *IDMap) Forget(surfaceID string) {
	m.mu.Lock()
	delete(m.entries, surfaceID)
	m.mu.Unlock()
}

// Len reports the number of mappings.
func (m *IDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
