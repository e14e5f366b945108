package kvcache

import "testing"

func singleTokenBatch(pos []int32, seqID int) *UBatch {
	n := len(pos)
	seqIDs := make([][]int, n)
	nSeqID := make([]int, n)
	for i := range pos {
		seqIDs[i] = []int{seqID}
		nSeqID[i] = 1
	}
	return &UBatch{
		NTokens: n, NSeqs: n, NSeqTokens: 1,
		Pos:    pos,
		NSeqID: nSeqID,
		SeqID:  seqIDs,
	}
}

func TestFindSlotCausalPacksFromHead(t *testing.T) {
	c := newTestCache(t, 8, false)

	info, err := c.FindSlot(singleTokenBatch([]int32{0, 1, 2}, 0))
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	if !info.OK || info.Begin != 0 || info.End != 3 {
		t.Fatalf("got %+v, want {OK:true Begin:0 End:3}", info)
	}
	if c.UsedCells() != 3 {
		t.Fatalf("UsedCells() = %d, want 3", c.UsedCells())
	}
}

func TestFindSlotCausalSkipsOccupiedCells(t *testing.T) {
	c := newTestCache(t, 8, false)

	if _, err := c.FindSlot(singleTokenBatch([]int32{0, 1}, 0)); err != nil {
		t.Fatalf("first FindSlot: %v", err)
	}

	info, err := c.FindSlot(singleTokenBatch([]int32{2, 3}, 1))
	if err != nil {
		t.Fatalf("second FindSlot: %v", err)
	}
	if info.Begin != 2 || info.End != 4 {
		t.Fatalf("got %+v, want to continue packing at offset 2", info)
	}
}

func TestFindSlotCausalReusesFreedRunAtHead(t *testing.T) {
	c := newTestCache(t, 4, false)

	if _, err := c.FindSlot(singleTokenBatch([]int32{0, 1, 2, 3}, 0)); err != nil {
		t.Fatalf("fill FindSlot: %v", err)
	}
	if err := c.SeqRm(0, 0, 2); err != nil {
		t.Fatalf("SeqRm: %v", err)
	}

	// cells 0,1 are free; head is still 0 because FindSlot does not
	// advance it on success, so the scan finds the freed run at once.
	info, err := c.FindSlot(singleTokenBatch([]int32{4, 5}, 1))
	if err != nil {
		t.Fatalf("FindSlot after SeqRm: %v", err)
	}
	if info.Begin != 0 || info.End != 2 {
		t.Fatalf("got %+v, want the freed run at [0,2)", info)
	}
}

func TestFindSlotCausalFailsWhenFull(t *testing.T) {
	c := newTestCache(t, 2, false)

	if _, err := c.FindSlot(singleTokenBatch([]int32{0, 1}, 0)); err != nil {
		t.Fatalf("fill FindSlot: %v", err)
	}

	if _, err := c.FindSlot(singleTokenBatch([]int32{2}, 1)); err != ErrCacheFull {
		t.Fatalf("FindSlot on full cache: err = %v, want ErrCacheFull", err)
	}
}

func TestFindSlotCausalRejectsOversizedBatch(t *testing.T) {
	c := newTestCache(t, 2, false)

	if _, err := c.FindSlot(singleTokenBatch([]int32{0, 1, 2}, 0)); err != ErrInvalidBatch {
		t.Fatalf("err = %v, want ErrInvalidBatch", err)
	}
}
