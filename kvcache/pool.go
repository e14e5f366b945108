package kvcache

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ollama/ollama/x/kvcache/ml"
)

// Cache is the bookkeeping pool for one model's K/V (or recurrent
// state) storage: a fixed number of cells, shared across every
// in-flight sequence, plus the metadata needed to find, grow, and
// edit the slots any one sequence occupies.
//
// A Cache is not safe for concurrent use; callers serialize access to
// one Cache the same way they serialize forward passes (spec §5,
// Non-goals).
type Cache struct {
	id string

	size int32
	head int32
	used int32
	n    int32

	// hasShift is set whenever a cell's delta becomes nonzero and
	// stays set until the host runtime applies the shift and calls
	// ClearShift. doDefrag is an advisory flag that Defrag sets on a
	// transformer cache and the runtime checks.
	hasShift bool
	doDefrag bool

	// recurrent selects the six-phase tail/compaction allocator and
	// the single-state-cell-per-sequence discipline; transformer
	// (recurrent == false) selects the linear wraparound scan.
	recurrent bool

	// vTrans records whether V is stored transposed, which flash
	// attention kernels don't need; canShift records whether RoPE
	// position-shifting is legal for this architecture (not recurrent,
	// not MLA).
	vTrans   bool
	canShift bool

	cells []cell
	pane  *tensorPane

	log *slog.Logger
}

// NewCache allocates an empty, uninitialized Cache. Call Init before
// using it.
func NewCache() *Cache {
	id := uuid.NewString()
	return &Cache{
		id:  id,
		log: slog.With("component", "kvcache", "cache_id", id),
	}
}

// Init sizes the pool to hold size cells, derives the transformer-vs-
// recurrent discipline from hp, and allocates the backing K/V tensors
// through backend. size is the cell-pool capacity, not a token count:
// for recurrent architectures it equals the maximum number of
// concurrent sequences, since each occupies exactly one cell.
func (c *Cache) Init(hp HParams, cp ComputeParams, backend ml.Backend, dtypeK, dtypeV ml.DType, size int32, offload bool) error {
	if size <= 0 {
		return fmt.Errorf("kvcache: invalid pool size %d", size)
	}

	c.size = size
	c.head = 0
	c.used = 0
	c.n = 0
	c.hasShift = false
	c.doDefrag = false
	c.recurrent = hp.Recurrent()
	c.vTrans = !c.recurrent && !cp.FlashAttention()
	c.canShift = !c.recurrent && !hp.MLA()

	c.cells = make([]cell, size)
	for i := range c.cells {
		c.cells[i] = newCell()
	}

	c.pane = newTensorPane(dtypeK, dtypeV)
	if err := c.pane.init(backend, hp, int(size)); err != nil {
		return fmt.Errorf("kvcache: init: %w", err)
	}

	c.log.Info("initialized cache",
		"size", size,
		"recurrent", c.recurrent,
		"v_trans", c.vTrans,
		"can_shift", c.canShift,
		"layers", hp.LayerCount(),
		"offload", offload,
	)

	return nil
}

// Close closes every allocation context the backing tensors were
// allocated from. The Cache must not be used afterward.
func (c *Cache) Close() error {
	if c.pane == nil {
		return nil
	}
	return c.pane.close()
}

// Clear empties every cell and, if zeroData is true, zero-fills the
// backing K/V tensors. zeroData is expensive and is typically only
// requested by tests or when reusing a Cache for an unrelated model.
func (c *Cache) Clear(zeroData bool) {
	for i := range c.cells {
		c.cells[i].reset()
	}
	c.head = 0
	c.used = 0
	c.n = 0
	c.hasShift = false
	c.doDefrag = false

	if zeroData && c.pane != nil {
		c.pane.clear()
	}
}

// Size is the cell-pool capacity.
func (c *Cache) Size() int32 { return c.size }

// UsedCells is the number of occupied cells.
func (c *Cache) UsedCells() int32 { return c.used }

// ActiveWindow reports the width of the recurrent pool's current
// compacted window (set by the last successful recurrent FindSlot);
// it is always 0 for a transformer cache, which has no such window.
func (c *Cache) ActiveWindow() int32 { return c.n }

// Head is the search-resumption hint: for a transformer cache, the
// first index the next FindSlot scan will try; for a recurrent cache,
// the start of the active window.
func (c *Cache) Head() int32 { return c.head }

// Recurrent reports the discipline selected at Init.
func (c *Cache) Recurrent() bool { return c.recurrent }

// CanShift reports whether in-place RoPE position shifting is legal
// for this architecture.
func (c *Cache) CanShift() bool { return c.canShift }

// HasShift reports whether any cell has a pending, unapplied position
// delta. The host runtime checks this once per forward pass and, if
// true, applies the shift kernel and calls ClearShift.
func (c *Cache) HasShift() bool { return c.hasShift }

// ClearShift resets every cell's delta to zero and clears hasShift,
// called by the host runtime once it has applied the pending shift.
func (c *Cache) ClearShift() {
	for i := range c.cells {
		c.cells[i].delta = 0
	}
	c.hasShift = false
}

// DoDefrag reports whether Defrag has flagged the pool for compaction.
// Defrag sets the flag on every call for a transformer cache; it does
// not measure fragmentation.
func (c *Cache) DoDefrag() bool { return c.doDefrag }

// NTokens is the number of tokens occupying the cache: the sum, over
// every cell, of how many sequences that cell belongs to. A cell
// shared by k sequences (via SeqCp) counts k times, matching
// View.Update's token_count computation (view.go) and
// llama_kv_cache::n_tokens.
func (c *Cache) NTokens() int32 {
	var n int32
	for i := range c.cells {
		n += int32(len(c.cells[i].seqID))
	}
	return n
}

// TotalSize reports the total bytes occupied by the K and V tensors
// across every layer, for observability/metrics only.
func (c *Cache) TotalSize() int64 {
	if c.pane == nil {
		return 0
	}
	kElems, vElems := c.pane.elementCounts()
	return int64(kElems)*int64(elementSize(c.pane.dtypeK)) + int64(vElems)*int64(elementSize(c.pane.dtypeV))
}

// GetPadding returns the cell-count alignment the host runtime should
// round batch sizes up to before calling FindSlot: 256 cells when
// flash-attention kernels read the cache, 32 otherwise.
func (c *Cache) GetPadding(cp ComputeParams) int32 {
	if cp.FlashAttention() {
		return 256
	}
	return 32
}
