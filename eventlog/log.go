package eventlog

import (
	"slices"
	"sync"

	iface "CoDetServer/interface"
)

// DefaultCapacity matches the number of entries a display keeps on screen.
const DefaultCapacity = 50

// Entry is what subscribers receive: the event and whether it overwrote the previous head.
// A Cleared entry carries no event and tells subscribers to drop what they have shown.
type Entry struct {
	Event    iface.Event `json:"event"`
	Replaced bool        `json:"replaced"`
	Cleared  bool        `json:"cleared,omitempty"`
}

// Log is the display log. It is an iface.EventSink; Publish never blocks on subscribers.
type Log struct {
	mu       sync.RWMutex
	events   []iface.Event
	capacity int
	subs     map[int]chan Entry
	nextSub  int
}

// NewLog keeps at most capacity entries, oldest dropped first. A capacity of 0 keeps everything.
func NewLog(capacity int) *Log {
	if capacity < 0 {
		capacity = 0
	}
	return &Log{capacity: capacity, subs: make(map[int]chan Entry)}
}

func (l *Log) Publish(e iface.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	replaced := len(l.events) > 0 && Collapses(l.events[0], e)
	l.events = Append(l.events, e)
	if l.capacity > 0 && len(l.events) > l.capacity {
		l.events = l.events[:l.capacity]
	}
	l.notify(Entry{Event: e, Replaced: replaced})
}

// notify must be called with l.mu held.
func (l *Log) notify(entry Entry) {
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Events returns a snapshot, newest first.
func (l *Log) Events() []iface.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.events)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Clear empties the log and sends subscribers a Cleared entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.notify(Entry{Cleared: true})
}

// Subscribe returns a channel receiving every published entry and a cancel func that closes it.
// Entries are dropped for a subscriber whose buffer is full.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	ch := make(chan Entry, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
