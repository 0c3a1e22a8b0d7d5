package overlay

import (
	"slices"
	"sync"

	iface "CoDetServer/interface"
)

// Item pairs a detection with the color group it is drawn in.
type Item struct {
	Detection iface.Detection
	Group     iface.ColorGroup
}

// FromGroups tags every detection of a and b with its group, A first.
func FromGroups(a, b []iface.Detection) []Item {
	items := make([]Item, 0, len(a)+len(b))
	for _, d := range a {
		items = append(items, Item{Detection: d, Group: iface.GroupA})
	}
	for _, d := range b {
		items = append(items, Item{Detection: d, Group: iface.GroupB})
	}
	return items
}

// Manager owns the overlay set of the newest frame. Every Replace discards the whole previous set;
// detections carry no identity across frames, so there is nothing to diff against.
type Manager struct {
	mu        sync.Mutex
	current   []iface.Overlay
	renderers []iface.OverlayRenderer
}

func NewManager(renderers ...iface.OverlayRenderer) *Manager {
	return &Manager{renderers: renderers}
}

// Replace installs one overlay per item and hands the full set to every renderer.
func (m *Manager) Replace(items []Item) {
	next := make([]iface.Overlay, 0, len(items))
	for _, it := range items {
		next = append(next, iface.Overlay{
			Class:      it.Detection.Class,
			Box:        it.Detection.Box,
			ColorGroup: it.Group,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = next
	for _, r := range m.renderers {
		r.ReplaceOverlays(slices.Clone(next))
	}
}

// Clear drops every overlay. Safe to call when nothing is shown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	for _, r := range m.renderers {
		r.ClearOverlays()
	}
}

// Current returns a copy of the overlays of the newest frame.
func (m *Manager) Current() []iface.Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.current)
}
