package gpu

import "sort"

type span struct {
	offset int
	size   int
}

// freeList tracks the unused ranges of one memory block, ordered by offset.
// Adjacent ranges are merged on release.
type freeList struct {
	size int
	used int
	free []span
}

func newFreeList(size int) *freeList {
	return &freeList{
		size: size,
		free: []span{{offset: 0, size: size}},
	}
}

func alignUp(value, alignment int) int {
	if alignment <= 1 {
		return value
	}
	return (value + alignment - 1) / alignment * alignment
}

func alignDown(value, alignment int) int {
	if alignment <= 1 {
		return value
	}
	return value / alignment * alignment
}

// allocate carves size bytes at an offset that is a multiple of alignment
// out of the first range large enough to hold them.
func (f *freeList) allocate(size, alignment int) (int, bool) {
	for i, candidate := range f.free {
		offset := alignUp(candidate.offset, alignment)
		end := offset + size
		if end > candidate.offset+candidate.size {
			continue
		}

		var replacement []span
		if offset > candidate.offset {
			replacement = append(replacement, span{offset: candidate.offset, size: offset - candidate.offset})
		}
		if tail := candidate.offset + candidate.size - end; tail > 0 {
			replacement = append(replacement, span{offset: end, size: tail})
		}

		rest := append(replacement, f.free[i+1:]...)
		f.free = append(f.free[:i], rest...)
		f.used += size
		return offset, true
	}
	return 0, false
}

func (f *freeList) release(offset, size int) {
	i := sort.Search(len(f.free), func(i int) bool {
		return f.free[i].offset > offset
	})

	f.free = append(f.free, span{})
	copy(f.free[i+1:], f.free[i:])
	f.free[i] = span{offset: offset, size: size}
	f.used -= size

	if i+1 < len(f.free) && f.free[i].offset+f.free[i].size == f.free[i+1].offset {
		f.free[i].size += f.free[i+1].size
		f.free = append(f.free[:i+1], f.free[i+2:]...)
	}
	if i > 0 && f.free[i-1].offset+f.free[i-1].size == f.free[i].offset {
		f.free[i-1].size += f.free[i].size
		f.free = append(f.free[:i], f.free[i+1:]...)
	}
}

func (f *freeList) empty() bool {
	return f.used == 0
}
