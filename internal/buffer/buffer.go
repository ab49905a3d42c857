// Package buffer holds the message history of the focused room.
package buffer

import (
	"sync"

	"github.com/chatsync/client/internal/chat"
)

const (
	// DefaultCapacity is the hard cap on buffered messages.
	DefaultCapacity = 1000

	// DefaultRetain is how many of the newest messages survive an overflow trim.
	DefaultRetain = 500
)

// Options configures a Buffer. Zero values select the defaults.
type Options struct {
	Capacity int
	Retain   int

	// DedupeByID skips messages whose ID is already buffered. Off by default:
	// a message delivered by both a live push and a concurrent page fetch
	// then appears twice.
	DedupeByID bool
}

// Buffer is an ordered, capacity-bounded store of chat messages, oldest first.
//
// Live pushes are appended in arrival order; history pages arrive in
// chronological order and are either swapped in wholesale (page 1) or
// prepended (older pages). When an append takes the length past Capacity,
// only the newest Retain messages are kept:
//
//	cap=4 retain=2
//	Append(E) on [A B C D] -> [A B C D E] -> [D E]
//
// Callers that need the evicted history must page it back in.
type Buffer struct {
	mu sync.RWMutex

	msgs     []chat.Message
	capacity int
	retain   int
	dedupe   bool
}

// New creates an empty buffer.
func New(opts Options) *Buffer {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	retain := opts.Retain
	if retain <= 0 || retain > capacity {
		retain = max(capacity/2, 1)
	}
	return &Buffer{
		capacity: capacity,
		retain:   retain,
		dedupe:   opts.DedupeByID,
	}
}

// ReplaceAll discards the current contents and stores msgs.
// It is used for first-page fetches, which are the authoritative newest window.
// If msgs is longer than Capacity only the newest Capacity are kept.
func (b *Buffer) ReplaceAll(msgs []chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(msgs) > b.capacity {
		msgs = msgs[len(msgs)-b.capacity:]
	}
	next := make([]chat.Message, 0, len(msgs))
	if b.dedupe {
		seen := make(map[int64]struct{}, len(msgs))
		for _, m := range msgs {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			next = append(next, m)
		}
	} else {
		next = append(next, msgs...)
	}
	b.msgs = next
}

// PrependPage inserts an older page before the current front, keeping the
// page's internal order. If the result exceeds Capacity the newest messages
// are dropped so the page just requested stays visible.
func (b *Buffer) PrependPage(msgs []chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page := msgs
	if b.dedupe {
		page = b.withoutKnownLocked(msgs)
	}
	next := make([]chat.Message, 0, len(page)+len(b.msgs))
	next = append(next, page...)
	next = append(next, b.msgs...)
	if len(next) > b.capacity {
		next = next[:b.capacity]
	}
	b.msgs = next
}

// Append adds a live message at the end and trims on overflow.
// The read flag is reset: server read state is not trusted on receipt.
// It reports whether the message was stored.
func (b *Buffer) Append(msg chat.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dedupe && b.indexLocked(msg.ID) >= 0 {
		return false
	}
	msg.IsRead = false
	b.msgs = append(b.msgs, msg)
	if len(b.msgs) > b.capacity {
		kept := make([]chat.Message, b.retain)
		copy(kept, b.msgs[len(b.msgs)-b.retain:])
		b.msgs = kept
	}
	return true
}

// Clear removes all messages.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = nil
}

// MarkRead sets the local read flag on every buffered message.
func (b *Buffer) MarkRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.msgs {
		b.msgs[i].IsRead = true
	}
}

// Messages returns a copy of the buffered messages, oldest first.
func (b *Buffer) Messages() []chat.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]chat.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.msgs)
}

// Oldest returns the first message, if any.
func (b *Buffer) Oldest() (chat.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.msgs) == 0 {
		return chat.Message{}, false
	}
	return b.msgs[0], true
}

// Newest returns the last message, if any.
func (b *Buffer) Newest() (chat.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.msgs) == 0 {
		return chat.Message{}, false
	}
	return b.msgs[len(b.msgs)-1], true
}

// Capacity returns the hard cap.
func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) indexLocked(id int64) int {
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Buffer) withoutKnownLocked(msgs []chat.Message) []chat.Message {
	seen := make(map[int64]struct{}, len(b.msgs)+len(msgs))
	for _, m := range b.msgs {
		seen[m.ID] = struct{}{}
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
