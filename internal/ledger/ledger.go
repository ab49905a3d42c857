// Package ledger tracks unread message counts per room.
package ledger

import (
	"sync"

	"github.com/chatsync/client/internal/chat"
)

// Ledger maps room IDs to unread counts.
//
// Entries are created lazily and never deleted; a room that reappears keeps
// counting from its stored value. The focused room always reads 0 while it
// stays focused.
type Ledger struct {
	mu       sync.RWMutex
	counts   map[int64]int
	focused  int64
	hasFocus bool
}

// New creates an empty ledger with no focused room.
func New() *Ledger {
	return &Ledger{counts: make(map[int64]int)}
}

// Increment adds one unread message for roomID.
func (l *Ledger) Increment(roomID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[roomID]++
}

// Reset zeroes roomID's count.
func (l *Ledger) Reset(roomID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[roomID] = 0
}

// Focus zeroes roomID and records it as the active room. Live messages for
// the focused room do not increment until focus changes.
func (l *Ledger) Focus(roomID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[roomID] = 0
	l.focused = roomID
	l.hasFocus = true
}

// ClearFocus forgets the active room. Counts are left as they are.
func (l *Ledger) ClearFocus() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.focused = 0
	l.hasFocus = false
}

// Focused returns the active room, if any.
func (l *Ledger) Focused() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.focused, l.hasFocus
}

// Set stores a server-reported count. Negative values clamp to 0 and the
// focused room stays at 0.
func (l *Ledger) Set(roomID int64, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if count < 0 || (l.hasFocus && roomID == l.focused) {
		count = 0
	}
	l.counts[roomID] = count
}

// Count returns roomID's unread count.
func (l *Ledger) Count(roomID int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[roomID]
}

// Total sums every room's count, for aggregate badges.
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

// Snapshot returns a copy of all entries.
func (l *Ledger) Snapshot() map[int64]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int64]int, len(l.counts))
	for id, n := range l.counts {
		out[id] = n
	}
	return out
}

// HandleEvent applies a live event: a chat message for any room other than
// the focused one counts as unread. The check and the increment happen under
// one lock so a concurrent Focus cannot slip between them.
func (l *Ledger) HandleEvent(ev chat.Event) error {
	if ev.Kind != chat.EventChatMessage || ev.Message == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasFocus && ev.Message.RoomID == l.focused {
		return nil
	}
	l.counts[ev.Message.RoomID]++
	return nil
}
