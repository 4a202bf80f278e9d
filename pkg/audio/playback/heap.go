package playback

// entry is one scheduled buffer on a [Timeline], already converted to the
// timeline's sample rate. The seq field keeps insertion order for buffers
// that share a start sample.
type entry struct {
	samples []float32
	start   int64  // absolute start position in samples
	seq     uint64 // monotonic insertion order for tie-breaking
}

// end returns the first sample position after the entry.
func (e entry) end() int64 { return e.start + int64(len(e.samples)) }

// entryHeap implements [container/heap.Interface] as a min-heap ordered by
// start sample (ascending), with FIFO tie-breaking on seq (ascending).
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

// Less reports whether element i starts before element j.
func (h entryHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
