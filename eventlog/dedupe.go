package eventlog

import (
	iface "CoDetServer/interface"
)

// Collapses reports whether next should overwrite head instead of being added in front of it.
// Only events that both carry the same non-empty DedupeKey collapse.
func Collapses(head, next iface.Event) bool {
	return head.DedupeKey != "" && head.DedupeKey == next.DedupeKey
}

// Append returns events (newest first) with e applied: it either replaces the head entry or is
// prepended. The input slice is never modified.
func Append(events []iface.Event, e iface.Event) []iface.Event {
	if len(events) > 0 && Collapses(events[0], e) {
		out := make([]iface.Event, len(events))
		copy(out, events)
		out[0] = e
		return out
	}
	out := make([]iface.Event, 0, len(events)+1)
	out = append(out, e)
	return append(out, events...)
}
