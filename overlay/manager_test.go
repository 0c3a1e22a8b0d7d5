package overlay

import (
	"sync"
	"testing"

	iface "CoDetServer/interface"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type recordingRenderer struct {
	mu     sync.Mutex
	calls  []string
	latest []iface.Overlay
}

func (r *recordingRenderer) ReplaceOverlays(overlays []iface.Overlay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "replace")
	r.latest = overlays
}

func (r *recordingRenderer) ClearOverlays() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "clear")
	r.latest = nil
}

var (
	person = iface.Detection{Class: "person", Confidence: 0.8, Box: iface.BoundingBox{X: 1, Y: 2, Width: 30, Height: 60}}
	dog    = iface.Detection{Class: "dog", Confidence: 0.9, Box: iface.BoundingBox{X: 50, Y: 40, Width: 20, Height: 15}}
)

func TestFromGroups(t *testing.T) {
	items := FromGroups([]iface.Detection{person}, []iface.Detection{dog})
	want := []Item{
		{Detection: person, Group: iface.GroupA},
		{Detection: dog, Group: iface.GroupB},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("FromGroups mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, FromGroups(nil, nil))
}

func TestManager(t *testing.T) {
	r := &recordingRenderer{}
	m := NewManager(r)

	t.Run("Test Replace", func(t *testing.T) {
		m.Replace(FromGroups([]iface.Detection{person}, []iface.Detection{dog}))
		want := []iface.Overlay{
			{Class: "person", Box: person.Box, ColorGroup: iface.GroupA},
			{Class: "dog", Box: dog.Box, ColorGroup: iface.GroupB},
		}
		if diff := cmp.Diff(want, m.Current()); diff != "" {
			t.Errorf("Current mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, want, r.latest)
	})

	t.Run("Test Replace Drops Previous", func(t *testing.T) {
		m.Replace(FromGroups(nil, []iface.Detection{dog}))
		assert.Len(t, m.Current(), 1)
		assert.Equal(t, "dog", m.Current()[0].Class)

		m.Replace(nil)
		assert.Empty(t, m.Current())
		assert.Empty(t, r.latest)
	})

	t.Run("Test Replace Idempotent", func(t *testing.T) {
		items := FromGroups([]iface.Detection{person, person}, []iface.Detection{dog})
		m.Replace(items)
		once := m.Current()
		m.Replace(items)
		assert.Equal(t, once, m.Current())
	})

	t.Run("Test Current Is A Copy", func(t *testing.T) {
		m.Replace(FromGroups([]iface.Detection{person}, nil))
		got := m.Current()
		got[0].Class = "cat"
		assert.Equal(t, "person", m.Current()[0].Class)
	})

	t.Run("Test Clear", func(t *testing.T) {
		m.Clear()
		assert.Empty(t, m.Current())
		m.Clear()
		assert.Empty(t, m.Current())
		assert.Equal(t, "clear", r.calls[len(r.calls)-1])
	})
}

func TestManagerWithoutRenderers(t *testing.T) {
	m := NewManager()
	m.Clear()
	m.Replace(FromGroups([]iface.Detection{person}, nil))
	assert.Len(t, m.Current(), 1)
}
