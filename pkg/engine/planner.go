package engine

// Range is a half-open interval [Start, End) of sample sequence numbers
// executed by one worker.
type Range struct {
	Start uint32
	End   uint32
}

// Len is the number of samples in the range.
func (r Range) Len() int { return int(r.End - r.Start) }

// DivideIntoRanges splits [start, end) into n contiguous ranges. The first
// (end-start)%n ranges get one extra element. Invalid input yields nil.
func DivideIntoRanges(start, end uint32, n int) []Range {
	if n <= 0 || end < start {
		return nil
	}
	total := end - start
	size := total / uint32(n)
	rem := total % uint32(n)

	ranges := make([]Range, n)
	cur := start
	for i := range ranges {
		next := cur + size
		if uint32(i) < rem {
			next++
		}
		ranges[i] = Range{Start: cur, End: next}
		cur = next
	}
	return ranges
}
