package kvcache

// findSlotCausal implements the transformer allocator: a linear scan
// for a run of NTokens contiguous empty cells, resuming from head and
// wrapping around the pool. head is left just past the failed run on
// a miss, so the next call doesn't re-scan cells already proven
// occupied; on success head is NOT advanced past the allocated run,
// so a defrag-free pool keeps packing new batches
// into the same cells as they vacate.
func (c *Cache) findSlotCausal(ub *UBatch) (SlotInfo, error) {
	if ub.NTokens > len(c.cells) {
		return SlotInfo{}, ErrInvalidBatch
	}

	var tested int32
	for {
		if c.head+int32(ub.NTokens) > c.size {
			tested += c.size - c.head
			c.head = 0
			continue
		}

		found := true
		var i int
		for i = 0; i < ub.NTokens; i++ {
			if c.cells[int(c.head)+i].occupied() {
				found = false
				c.head += int32(i) + 1
				tested += int32(i) + 1
				break
			}
		}

		if found {
			break
		}
		if tested >= c.size {
			return SlotInfo{}, ErrCacheFull
		}
	}

	begin := int(c.head)
	for s := 0; s < ub.NSeqs; s++ {
		for i := 0; i < ub.NSeqTokens; i++ {
			k := s*ub.NSeqTokens + i
			cl := &c.cells[begin+k]
			cl.pos = ub.Pos[k]
			for _, id := range ub.seqIDs(s) {
				cl.seqID.insert(id)
			}
		}
	}

	c.used += int32(ub.NTokens)

	return SlotInfo{OK: true, Begin: begin, End: begin + ub.NTokens}, nil
}
