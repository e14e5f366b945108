package kvcache

import "math"

const posInf = int32(math.MaxInt32)

func normalizeRange(p0, p1 int32) (int32, int32) {
	if p0 < 0 {
		p0 = 0
	}
	if p1 < 0 {
		p1 = posInf
	}
	return p0, p1
}

// SeqRm erases every cell belonging to seqID whose position lies in
// [p0, p1). A negative p0/p1 means "from the start"/"to infinity".
// seqID < 0 erases all sequences in the range, which is how a caller
// clears a span without knowing which sequences occupy it.
//
// Recurrent sequences store their entire state in one cell, so only
// an all-or-nothing range is legal for a fixed, non-negative seqID:
// anything that would otherwise erase part of that one cell's state
// returns ErrRecurrentPartialErase instead of silently truncating it.
func (c *Cache) SeqRm(seqID int, p0, p1 int32) error {
	p0, p1 = normalizeRange(p0, p1)
	newHead := c.size

	if c.recurrent {
		if seqID >= int(c.size) {
			return nil
		}
		if seqID >= 0 {
			tailID := &c.cells[seqID].tail
			if *tailID >= 0 {
				cell := &c.cells[*tailID]
				if (0 < p0 && p0 <= cell.pos) || (0 < p1 && p1 <= cell.pos) {
					return ErrRecurrentPartialErase
				}
				if p0 <= cell.pos && cell.pos < p1 {
					*tailID = -1
				}
			}
		} else if p0 != p1 && (p0 != 0 || p1 != posInf) {
			return ErrRecurrentPartialErase
		}
	}

	for i := int32(0); i < c.size; i++ {
		cl := &c.cells[i]
		if cl.pos < p0 || cl.pos >= p1 {
			continue
		}

		if seqID < 0 {
			cl.seqID.clear()
		} else if cl.hasSeq(seqID) {
			cl.seqID.erase(seqID)
		} else {
			continue
		}

		if cl.empty() {
			if cl.pos >= 0 {
				c.used--
			}
			cl.pos = -1
			cl.src = -1
			if newHead == c.size {
				newHead = i
			}
		}
	}

	if newHead != c.size && newHead < c.head {
		c.head = newHead
	}

	return nil
}

// SeqCp marks every cell that belongs to srcSeqID and lies in
// [p0, p1) as also belonging to dstSeqID. In recurrent mode a
// sequence owns at most one cell, so this instead retargets dstSeqID's
// single tail cell onto whatever cell srcSeqID's tail currently
// points to (the position range is ignored, matching the original:
// a recurrent sequence's state cannot be partially copied).
func (c *Cache) SeqCp(srcSeqID, dstSeqID int, p0, p1 int32) {
	if srcSeqID == dstSeqID {
		return
	}
	p0, p1 = normalizeRange(p0, p1)

	if c.recurrent {
		if dstSeqID < int(c.size) && srcSeqID < int(c.size) && dstSeqID >= 0 && srcSeqID >= 0 {
			tailSrc := &c.cells[srcSeqID]
			tailDst := &c.cells[dstSeqID]

			if tailDst.tail >= 0 {
				cellDst := &c.cells[tailDst.tail]
				cellDst.seqID.erase(dstSeqID)
				tailDst.tail = -1
				if cellDst.empty() {
					cellDst.pos = -1
					cellDst.delta = -1
					cellDst.src = -1
					c.used--
				}
			}

			if tailSrc.tail >= 0 {
				cellSrc := &c.cells[tailSrc.tail]
				cellSrc.seqID.insert(dstSeqID)
				tailDst.tail = tailSrc.tail
			}
		}
		return
	}

	c.head = 0
	for i := int32(0); i < c.size; i++ {
		cl := &c.cells[i]
		if cl.hasSeq(srcSeqID) && cl.pos >= p0 && cl.pos < p1 {
			cl.seqID.insert(dstSeqID)
		}
	}
}

// SeqKeep erases every cell not belonging to seqID, and strips every
// remaining cell down to membership in seqID alone. In recurrent mode
// every other sequence's tail pointer is also invalidated, since a
// freed cell can no longer serve as anyone else's state.
func (c *Cache) SeqKeep(seqID int) {
	newHead := c.size

	for i := int32(0); i < c.size; i++ {
		cl := &c.cells[i]

		if c.recurrent && int(i) != seqID {
			cl.tail = -1
		}

		if !cl.hasSeq(seqID) {
			if cl.pos >= 0 {
				c.used--
			}
			cl.pos = -1
			cl.src = -1
			cl.seqID.clear()
			if newHead == c.size {
				newHead = i
			}
		} else {
			cl.seqID.clear()
			cl.seqID.insert(seqID)
		}
	}

	if newHead != c.size && newHead < c.head {
		c.head = newHead
	}
}

// SeqAdd shifts the position of every cell belonging to seqID in
// [p0, p1) by delta, setting HasShift so the host runtime knows to
// apply the corresponding RoPE shift kernel before the next forward
// pass. A cell whose position goes negative is erased outright — it
// has shifted entirely out of the context window.
//
// In recurrent mode only the position itself moves (there is no
// RoPE-style cache content to re-rotate), and only the single sequence
// named by seqID is ever eligible, since a recurrent cell's position
// describes state for exactly one sequence.
func (c *Cache) SeqAdd(seqID int, p0, p1, delta int32) {
	if delta == 0 {
		return
	}
	p0, p1 = normalizeRange(p0, p1)
	if p0 == p1 {
		return
	}

	if c.recurrent {
		if seqID >= 0 && seqID < int(c.size) {
			tailID := c.cells[seqID].tail
			if tailID >= 0 {
				cell := &c.cells[tailID]
				if cell.hasSeq(seqID) && p0 <= cell.pos && cell.pos < p1 {
					cell.pos += delta
				}
			}
		}
		return
	}

	newHead := c.size
	for i := int32(0); i < c.size; i++ {
		cl := &c.cells[i]
		if !cl.hasSeq(seqID) || cl.pos < p0 || cl.pos >= p1 {
			continue
		}

		c.hasShift = true
		cl.pos += delta
		cl.delta += delta

		if cl.pos < 0 {
			if !cl.empty() {
				c.used--
			}
			cl.pos = -1
			cl.seqID.clear()
			if newHead == c.size {
				newHead = i
			}
		}
	}

	if newHead != c.size {
		c.head = newHead
	} else {
		c.head = 0
	}
}

// SeqDiv divides the position of every cell belonging to seqID in
// [p0, p1) by d, rounding toward zero like integer division, and
// records the resulting change in delta so a pending RoPE shift still
// reports the right cumulative offset.
func (c *Cache) SeqDiv(seqID int, p0, p1 int32, d int32) {
	if d == 1 {
		return
	}
	p0, p1 = normalizeRange(p0, p1)
	if p0 == p1 {
		return
	}

	if c.recurrent {
		if seqID >= 0 && seqID < int(c.size) {
			tailID := c.cells[seqID].tail
			if tailID >= 0 {
				cell := &c.cells[tailID]
				if cell.hasSeq(seqID) && p0 <= cell.pos && cell.pos < p1 {
					cell.pos /= d
				}
			}
		}
		return
	}

	for i := int32(0); i < c.size; i++ {
		cl := &c.cells[i]
		if !cl.hasSeq(seqID) || cl.pos < p0 || cl.pos >= p1 {
			continue
		}

		c.hasShift = true
		old := cl.pos
		cl.pos /= d
		cl.delta += cl.pos - old
	}
}

// SeqPosMax returns the highest position occupied by seqID, or 0 if
// the sequence occupies no cell.
func (c *Cache) SeqPosMax(seqID int) int32 {
	var result int32
	for i := int32(0); i < c.size; i++ {
		cl := &c.cells[i]
		if cl.hasSeq(seqID) && cl.pos > result {
			result = cl.pos
		}
	}
	return result
}

// Defrag flags the pool as due for compaction. It is a no-op for
// recurrent caches, which never fragment since each sequence always
// occupies exactly one cell.
func (c *Cache) Defrag() {
	if !c.recurrent {
		c.doDefrag = true
	}
}
