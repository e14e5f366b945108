package kvcache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ViewCell is the per-cell projection exposed by a View: the cell's
// pos+delta (pos already includes every SeqAdd/SeqDiv shift; delta is
// the part of it not yet cleared by ClearShift) and up to NSeqMax
// sequence ids, padded with -1.
type ViewCell struct {
	Pos    int32
	SeqIDs []int32
}

// View is a read-only snapshot of cache occupancy for diagnostics and
// monitoring dashboards; it is never read by the allocator itself.
// Call Update to refresh it against the live cache after any mutating
// operation.
type View struct {
	NSeqMax int

	TokenCount     int32
	UsedCells      int32
	MaxContiguous  int32
	MaxContigIndex int32

	Cells []ViewCell

	// Fingerprint is a diagnostic xxhash digest over every cell's
	// (pos, seq ids) pair, letting a caller cheaply tell whether two
	// snapshots describe the same occupancy without a field-by-field
	// comparison. It has no bearing on cache correctness.
	Fingerprint uint64
}

// NewView allocates a View sized for a cache with nSeqMax distinct
// live sequences. Call Update at least once before reading it.
func NewView(nSeqMax int) *View {
	return &View{NSeqMax: nSeqMax}
}

// Update recomputes the view from the cache's current cell state,
// grounded line-for-line on llama_kv_cache_view_update: it walks every
// cell once, tracks the longest run of empty cells (wrapping is not
// considered, matching the original), counts occupied cells and total
// sequence memberships, and logs an error if its own occupied count
// disagrees with the cache's own used counter — which would mean a
// bookkeeping bug in one of the mutating operations.
func (v *View) Update(c *Cache) {
	n := len(c.cells)
	if len(v.Cells) < n {
		v.Cells = make([]ViewCell, n)
		for i := range v.Cells {
			v.Cells[i].SeqIDs = make([]int32, v.NSeqMax)
		}
	}

	var (
		usedCells     int32
		tokenCount    int32
		currContigIdx int32 = -1
		maxContig     int32
		maxContigIdx  int32 = -1
	)

	h := xxhash.New()
	var buf [8]byte

	for i := 0; i < n; i++ {
		cl := &c.cells[i]
		vc := &v.Cells[i]

		curSize := int32(len(cl.seqID))
		tokenCount += curSize
		vc.Pos = cl.pos + cl.delta

		if curSize > 0 {
			if currContigIdx >= 0 && int32(i)-currContigIdx > maxContig {
				maxContig = int32(i) - currContigIdx
				maxContigIdx = currContigIdx
			}
			currContigIdx = -1
		} else if currContigIdx < 0 {
			currContigIdx = int32(i)
		}

		seqIdx := 0
		for _, id := range cl.seqID {
			if seqIdx >= v.NSeqMax {
				break
			}
			vc.SeqIDs[seqIdx] = id
			seqIdx++
		}
		if seqIdx != 0 {
			usedCells++
		}
		for ; seqIdx < v.NSeqMax; seqIdx++ {
			vc.SeqIDs[seqIdx] = -1
		}

		binary.LittleEndian.PutUint32(buf[0:4], uint32(vc.Pos))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(curSize))
		h.Write(buf[:])
		for _, id := range cl.seqID {
			binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
			h.Write(buf[0:4])
		}
	}

	if currContigIdx >= 0 && int32(n)-currContigIdx > maxContig {
		maxContigIdx = currContigIdx
		maxContig = int32(n) - currContigIdx
	}

	v.TokenCount = tokenCount
	v.UsedCells = usedCells
	v.MaxContiguous = maxContig
	v.MaxContigIndex = maxContigIdx
	v.Fingerprint = h.Sum64()

	if usedCells != c.used {
		c.log.Error("used cell count mismatch",
			"cache_used", c.used, "computed_used", usedCells)
	}
}
