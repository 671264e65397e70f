package buffer

import "testing"

func TestInsertRenumbersLaterEntries(t *testing.T) {
	b := New(8)
	b.Insert(5, true)
	b.Insert(5, false)

	entries := b.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Index != 5 || entries[0].Value != false {
		t.Fatalf("entries[0] = %+v, want Index=5 Value=false", entries[0])
	}
	if entries[1].Index != 6 || entries[1].Value != true {
		t.Fatalf("entries[1] = %+v, want Index=6 Value=true", entries[1])
	}
}

func TestRemoveAnnihilatesPendingInsert(t *testing.T) {
	b := New(8)
	b.Insert(3, true)
	hadPending := b.Remove(3, true)
	if !hadPending {
		t.Fatalf("Remove should report hadPendingInsert=true")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after annihilation", b.Len())
	}
}

func TestRemoveAppendsTombstoneAndShiftsLater(t *testing.T) {
	b := New(8)
	b.Insert(3, true)
	b.Insert(10, false)
	hadPending := b.Remove(1, true)
	if hadPending {
		t.Fatalf("Remove at an unrelated index should not annihilate")
	}
	entries := b.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	// the two pre-existing inserts shift down by one.
	if entries[1].Index != 2 {
		t.Fatalf("pending insert did not shift down: %+v", entries[1])
	}
	if entries[2].Index != 9 {
		t.Fatalf("pending insert did not shift down: %+v", entries[2])
	}
}

func TestSetRewritesPendingInsert(t *testing.T) {
	b := New(8)
	b.Insert(4, false)
	delta, handled := b.Set(4, true)
	if !handled {
		t.Fatalf("Set should handle an index with a pending insert")
	}
	if delta != 1 {
		t.Fatalf("delta = %d, want 1", delta)
	}
	v, hit := b.Access(4)
	if !hit || !v {
		t.Fatalf("Access(4) = (%v, %v), want (true, true)", v, hit)
	}
}

func TestSetReportsUnhandledWithoutPendingInsert(t *testing.T) {
	b := New(8)
	_, handled := b.Set(4, true)
	if handled {
		t.Fatalf("Set should report unhandled with no pending insert at that index")
	}
}

func TestIsFullRespectsCapacity(t *testing.T) {
	b := New(2)
	if b.IsFull() {
		t.Fatalf("empty buffer of capacity 2 should not be full")
	}
	b.Insert(0, true)
	b.Insert(1, false)
	if !b.IsFull() {
		t.Fatalf("buffer at capacity should report full")
	}
}

func TestTranslateAccumulatesOffsetAndCorrection(t *testing.T) {
	b := New(8)
	b.Insert(0, true)  // logical bit 0 is a buffered 1
	b.Insert(5, false) // logical bit 5 (after renumbering) is a buffered 0

	// querying logical index 10: both buffered inserts precede it, so
	// the physical array (which doesn't have them yet) sits two slots
	// to the left, and the rank correction is +1 (only the first
	// buffered bit is set).
	phys, correction := b.Translate(10)
	if phys != 8 {
		t.Fatalf("Translate(10).physical = %d, want 8", phys)
	}
	if correction != 1 {
		t.Fatalf("Translate(10).correction = %d, want 1", correction)
	}
}

func TestTranslateWithRemoveTombstone(t *testing.T) {
	b := New(8)
	b.Remove(2, true) // physical bit 2 (value true) logically no longer exists

	// querying logical index 5: the physical array still has the
	// removed bit, so the physical index runs one ahead of logical,
	// and the rank correction is -1 to cancel that bit's popcount.
	phys, correction := b.Translate(5)
	if phys != 6 {
		t.Fatalf("Translate(5).physical = %d, want 6", phys)
	}
	if correction != -1 {
		t.Fatalf("Translate(5).correction = %d, want -1", correction)
	}
}

func TestClearDropsAllEntries(t *testing.T) {
	b := New(8)
	b.Insert(0, true)
	b.Insert(1, true)
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after Clear(), want 0", b.Len())
	}
}
