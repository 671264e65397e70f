// Package buffer implements the bounded, ordered edit buffer (C2) a
// leaf attaches pending insert/remove operations to, so that many
// small edits can be amortized into one pass over the packed bit
// array instead of rewriting it on every call.
package buffer

// Kind distinguishes the two buffered operation types. A Set only
// ever rewrites an already-buffered Insert's value in place (see
// Buffer.Set) and therefore never needs its own persistent entry.
type Kind uint8

const (
	Insert Kind = iota
	Remove
)

// Entry is one pending edit. Index is expressed in the *current*
// logical coordinate space of the leaf (the space Access/Rank/Select
// callers use), not in the stale physical packed array. Value is the
// bit carried by the edit: for Insert, the inserted bit; for Remove,
// the bit being removed (the leaf learns this via its own Access path
// before calling Buffer.Remove, per spec.md §4.3).
type Entry struct {
	Index uint32
	Value bool
	Kind  Kind
}

// Buffer is a small ordered list of pending edits. With capacity 0,
// IsFull reports true as soon as any entry is recorded; a leaf whose
// policy has BufferSize 0 creates no Buffer at all and edits its
// packed array directly.
type Buffer struct {
	entries  []Entry
	capacity int
}

// New returns an empty buffer with the given capacity (spec.md §6
// policy K, in [0,62]).
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Len reports the number of pending entries.
func (b *Buffer) Len() int { return len(b.entries) }

// IsFull reports whether the buffer has reached capacity (or
// buffering is disabled).
func (b *Buffer) IsFull() bool { return len(b.entries) >= b.capacity }

// Clear discards all pending entries (called after a commit).
func (b *Buffer) Clear() { b.entries = b.entries[:0] }

// Entries returns the pending entries in ascending logical-index
// order, for the leaf's commit pass. Callers must not mutate the
// returned slice.
func (b *Buffer) Entries() []Entry { return b.entries }

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// insertSorted places e into entries, keeping ascending Index order.
// Among entries with equal Index, a Remove tombstone goes before any
// Insert (the removed bit sits physically before the logical bit at
// that index); otherwise ties keep insertion order (stable).
func (b *Buffer) insertSorted(e Entry) {
	pos := len(b.entries)
	for pos > 0 && (b.entries[pos-1].Index > e.Index ||
		(b.entries[pos-1].Index == e.Index && e.Kind == Remove && b.entries[pos-1].Kind == Insert)) {
		pos--
	}
	b.entries = append(b.entries, Entry{})
	copy(b.entries[pos+1:], b.entries[pos:])
	b.entries[pos] = e
}

// Insert records a pending insertion of v at logical index i. Every
// existing entry whose Index is >= i is shifted up by one: the bit it
// describes has just moved one slot to the right.
func (b *Buffer) Insert(i uint32, v bool) {
	for idx := range b.entries {
		if b.entries[idx].Index >= i {
			b.entries[idx].Index++
		}
	}
	b.insertSorted(Entry{Index: i, Value: v, Kind: Insert})
}

// Remove records the removal of the logical bit at index i, whose
// value the caller has already determined (via its own Access path).
// If a pending Insert sits exactly at i, it is annihilated in place
// and Remove reports hadPendingInsert=true; otherwise every later
// entry shifts down by one and a Remove tombstone at index i is
// inserted in sorted position.
func (b *Buffer) Remove(i uint32, v bool) (hadPendingInsert bool) {
	for idx, e := range b.entries {
		if e.Kind == Insert && e.Index == i {
			b.entries = append(b.entries[:idx], b.entries[idx+1:]...)
			for j := range b.entries {
				if b.entries[j].Index > i {
					b.entries[j].Index--
				}
			}
			return true
		}
	}
	for idx := range b.entries {
		if b.entries[idx].Index > i {
			b.entries[idx].Index--
		}
	}
	b.insertSorted(Entry{Index: i, Value: v, Kind: Remove})
	return false
}

// Set rewrites the value of a pending Insert sitting exactly at
// logical index i and reports the popcount delta (-1, 0 or +1) that
// results. handled is false when no such pending insertion exists;
// the caller must then flip the bit directly in the packed array.
func (b *Buffer) Set(i uint32, v bool) (delta int, handled bool) {
	for idx := range b.entries {
		e := &b.entries[idx]
		if e.Kind == Insert && e.Index == i {
			delta = boolToInt(v) - boolToInt(e.Value)
			e.Value = v
			return delta, true
		}
	}
	return 0, false
}

// Access reports the value of a pending Insert sitting exactly at
// logical index i, if any.
func (b *Buffer) Access(i uint32) (value bool, hit bool) {
	for _, e := range b.entries {
		if e.Kind == Insert && e.Index == i {
			return e.Value, true
		}
	}
	return false, false
}

// Translate converts logical index i (which must not itself be a
// pending-Insert hit; check Access first) to the physical index into
// the stale packed array, and the rank correction owed for pending
// edits before i: popcount(packed[0:physical]) plus correction equals
// the true logical rank(i). Pending inserts count when their Index is
// below i; tombstones count when their Index is at most i, since a
// tombstone at index j stands for a removed bit that sat just before
// logical bit j.
func (b *Buffer) Translate(i uint32) (physical uint32, correction int) {
	offset := int64(0)
	for _, e := range b.entries {
		if e.Index > i {
			break
		}
		switch e.Kind {
		case Insert:
			if e.Index < i {
				offset--
				correction += boolToInt(e.Value)
			}
		case Remove:
			offset++
			correction -= boolToInt(e.Value)
		}
	}
	return uint32(int64(i) + offset), correction
}
