package kvcache

// findSlotRecurrent implements the recurrent-state allocator: each
// sequence owns exactly one cell (its "tail"), which carries the
// sequence's entire rolling state forward across calls instead of one
// cell per token. A slot is always contiguous, so a successful call
// moves the tails of the batch's sequences into one run before
// returning it.
//
// The six phases below are grounded line-for-line on the recurrent
// branch of the original find_slot: (1) detach cells that have become
// shared by a second seq id since the last call, (2) locate the first
// empty cell at or after head as a moving cursor, (3) give every sequence in the
// batch a tail cell (reusing its existing tail when the sequence
// solely owns it, otherwise claiming the next empty cell via the
// cursor), (4) gather those tails into one contiguous run by swapping
// cell contents, (5) stamp the final position and sequence membership
// onto each gathered cell, (6) recompute head/n from the gathered
// range and used from the whole pool.
func (c *Cache) findSlotRecurrent(ub *UBatch) (SlotInfo, error) {
	if !ub.EqualSeqs {
		return SlotInfo{}, ErrInvalidBatch
	}

	min := c.size - 1
	max := int32(0)

	// Phase 1: a sequence id that now appears as a second-or-later id
	// in some group no longer solely owns whatever cell its tail
	// pointed at; detach it there so phase 3 doesn't mistake a shared
	// cell for a reusable one.
	for s := 0; s < ub.NSeqs; s++ {
		ids := ub.seqIDs(s)
		for j, id := range ids {
			if id < 0 || int32(id) >= c.size {
				c.log.Error("sequence id out of range for recurrent cache", "seq_id", id, "size", c.size)
				return SlotInfo{}, ErrSeqIDOutOfRange
			}
			if j == 0 {
				continue
			}
			seq := &c.cells[id]
			if seq.tail < 0 {
				continue
			}
			cell := &c.cells[seq.tail]
			cell.seqID.erase(id)
			seq.tail = -1
			if cell.empty() {
				cell.pos = -1
				cell.src = -1
				c.used--
			}
		}
	}

	// Phase 2: locate the first empty cell at or after head (wrapping),
	// the cursor phase 3 advances as it hands out cells to sequences
	// that need one.
	nextEmpty := c.head
	for i := int32(0); i < c.size; i++ {
		if nextEmpty >= c.size {
			nextEmpty -= c.size
		}
		if c.cells[nextEmpty].empty() {
			break
		}
		nextEmpty++
	}

	// Phase 3: give every sequence group a tail cell.
	for s := 0; s < ub.NSeqs; s++ {
		id := ub.seqIDs(s)[0]
		seqMeta := &c.cells[id]

		hasCell := false
		if seqMeta.tail >= 0 {
			cell := &c.cells[seqMeta.tail]
			if len(cell.seqID) == 1 {
				hasCell = true
			}
		}

		if !hasCell {
			empty := &c.cells[nextEmpty]
			if seqMeta.tail >= 0 {
				orig := &c.cells[seqMeta.tail]
				empty.pos = orig.pos
				empty.src = orig.src
				orig.seqID.erase(id)
				empty.seqID.insert(id)
			}
			seqMeta.tail = nextEmpty

			if s+1 < ub.NSeqs {
				nextEmpty++
				for i := int32(0); i < c.size; i++ {
					if nextEmpty >= c.size {
						nextEmpty -= c.size
					}
					if c.cells[nextEmpty].empty() {
						break
					}
					nextEmpty++
				}
			}
		}

		if min > seqMeta.tail {
			min = seqMeta.tail
		}
		if max < seqMeta.tail {
			max = seqMeta.tail
		}
	}

	// Phase 4: gather the tails into one contiguous run [min, min+NSeqs) by
	// swapping cell contents (and fixing up the tail pointers of
	// whatever seq ids rode along with the swapped cell).
	for s := 0; s < ub.NSeqs; s++ {
		dstID := int32(s) + min
		srcID := c.cells[ub.seqIDs(s)[0]].tail
		if dstID == srcID {
			continue
		}

		dst := &c.cells[dstID]
		src := &c.cells[srcID]

		dst.pos, src.pos = src.pos, dst.pos
		dst.src, src.src = src.src, dst.src
		dst.seqID, src.seqID = src.seqID, dst.seqID

		for _, id := range src.seqID {
			c.cells[id].tail = srcID
		}
		for _, id := range dst.seqID {
			c.cells[id].tail = dstID
		}
	}

	// Phase 5: stamp the final position and membership onto each
	// gathered cell. A non-consecutive position is a scheduling bug in
	// the host runtime, not something this cache can recover from
	// mid-batch, so it is logged and otherwise ignored, per the
	// original's own comment.
	for s := 0; s < ub.NSeqs; s++ {
		lastPos := ub.lastPos(s)
		cellID := int32(s) + min
		cl := &c.cells[cellID]

		if cl.pos >= 0 && lastPos != cl.pos+int32(ub.NSeqTokens) {
			c.log.Warn("non-consecutive token position for recurrent sequence",
				"pos", lastPos, "prev_pos", cl.pos, "seq_id", ub.seqIDs(s)[0], "n_tokens", ub.NSeqTokens)
		}

		cl.pos = lastPos
		cl.seqID.clear()
		for _, id := range ub.seqIDs(s) {
			cl.seqID.insert(id)
			c.cells[id].tail = cellID
		}
	}

	// Phase 6: recompute the bookkeeping fields over the gathered
	// range and the pool-wide occupancy count.
	c.head = min
	c.n = max - min + 1

	var used int32
	for i := range c.cells {
		if !c.cells[i].empty() {
			used++
		}
	}
	c.used = used

	if c.n < int32(ub.NSeqs) {
		return SlotInfo{}, ErrCacheFull
	}

	return SlotInfo{OK: true, Begin: int(min), End: int(max) + 1}, nil
}
