package kvcache

import (
	"testing"

	"github.com/ollama/ollama/x/kvcache/ml"
)

func newTestCache(t *testing.T, size int32, recurrent bool) *Cache {
	t.Helper()

	hp := testHParams(2, 4, 4, recurrent, false)
	cp := StaticComputeParams{FlashAttn: false}
	backend := newFakeBackend(hp.LayerCount())

	c := NewCache()
	if err := c.Init(hp, cp, backend, ml.DTypeF32, ml.DTypeF32, size, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

func TestInitSetsDiscipline(t *testing.T) {
	c := newTestCache(t, 8, false)
	if c.Recurrent() {
		t.Fatalf("expected transformer discipline")
	}
	if !c.CanShift() {
		t.Fatalf("expected CanShift true for a non-MLA transformer")
	}
	if c.UsedCells() != 0 {
		t.Fatalf("fresh cache should have 0 used cells, got %d", c.UsedCells())
	}
	if c.Size() != 8 {
		t.Fatalf("Size() = %d, want 8", c.Size())
	}
}

func TestInitRecurrentDisablesShift(t *testing.T) {
	c := newTestCache(t, 4, true)
	if !c.Recurrent() {
		t.Fatalf("expected recurrent discipline")
	}
	if c.CanShift() {
		t.Fatalf("recurrent caches cannot shift")
	}
}

func TestInitRejectsZeroSize(t *testing.T) {
	hp := testHParams(1, 4, 4, false, false)
	cp := StaticComputeParams{}
	backend := newFakeBackend(hp.LayerCount())

	c := NewCache()
	if err := c.Init(hp, cp, backend, ml.DTypeF32, ml.DTypeF32, 0, false); err == nil {
		t.Fatalf("expected error for zero-size pool")
	}
}

func TestClearResetsBookkeeping(t *testing.T) {
	c := newTestCache(t, 8, false)

	ub := &UBatch{
		NTokens: 3, NSeqs: 3, NSeqTokens: 1,
		Pos:    []int32{0, 1, 2},
		NSeqID: []int{1, 1, 1},
		SeqID:  [][]int{{0}, {0}, {0}},
	}
	if _, err := c.FindSlot(ub); err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	if c.UsedCells() == 0 {
		t.Fatalf("expected cells to be used after FindSlot")
	}

	c.Clear(true)
	if c.UsedCells() != 0 {
		t.Fatalf("Clear should reset UsedCells, got %d", c.UsedCells())
	}
	if c.NTokens() != 0 {
		t.Fatalf("Clear should reset NTokens, got %d", c.NTokens())
	}
}

func TestGetPaddingMatchesFlashAttention(t *testing.T) {
	c := newTestCache(t, 8, false)

	if got := c.GetPadding(StaticComputeParams{FlashAttn: true}); got != 256 {
		t.Fatalf("flash attention padding = %d, want 256", got)
	}
	if got := c.GetPadding(StaticComputeParams{FlashAttn: false}); got != 32 {
		t.Fatalf("non-flash padding = %d, want 32", got)
	}
}
