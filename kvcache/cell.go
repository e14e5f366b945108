package kvcache

import "slices"

// cell is one slot in the pool: either a transformer token (one K/V
// pair) or, in recurrent mode, one sequence's rolling state.
//
// pos == -1 marks an empty cell; seqID empty and pos == -1 always go
// together except transiently inside findSlotCausal/findSlotRecurrent
// while a slot is being stamped.
type cell struct {
	pos   int32
	delta int32
	src   int32
	tail  int32
	seqID seqSet
}

func newCell() cell {
	return cell{pos: -1, src: -1, tail: -1}
}

func (c *cell) reset() {
	c.pos = -1
	c.src = -1
	c.tail = -1
	c.seqID = c.seqID[:0]
}

func (c *cell) empty() bool {
	return len(c.seqID) == 0
}

func (c *cell) occupied() bool {
	return c.pos >= 0
}

func (c *cell) hasSeq(id int) bool {
	return c.seqID.contains(id)
}

// seqSet is a sorted small-vector of sequence ids. The design notes
// call for this explicitly: per-cell membership is typically a
// handful of ids at most, so a sorted slice with binary-search beats a
// map or a tree both in memory and in practice.
type seqSet []int32

func (s seqSet) contains(id int) bool {
	_, ok := slices.BinarySearch(s, int32(id))
	return ok
}

func (s *seqSet) insert(id int) {
	idx, ok := slices.BinarySearch(*s, int32(id))
	if ok {
		return
	}
	*s = slices.Insert(*s, idx, int32(id))
}

func (s *seqSet) erase(id int) {
	idx, ok := slices.BinarySearch(*s, int32(id))
	if !ok {
		return
	}
	*s = slices.Delete(*s, idx, idx+1)
}

func (s *seqSet) clear() {
	*s = (*s)[:0]
}

// setTo replaces the set's contents with exactly ids, sorted.
func (s *seqSet) setTo(ids []int) {
	*s = slices.Grow((*s)[:0], len(ids))
	for _, id := range ids {
		*s = append(*s, int32(id))
	}
	slices.Sort(*s)
}

func (s seqSet) clone() seqSet {
	return slices.Clone(s)
}

func (s seqSet) appendTo(dst []int, limit int) []int {
	for _, id := range s {
		if limit >= 0 && len(dst) >= limit {
			break
		}
		dst = append(dst, int(id))
	}
	return dst
}
