package lib

func SeqIncrement(seq uint32) uint32 {
	return uint32(uint64(seq) + 1) // implicit modulo operation included
}

func SeqIncrementBy(seq, inc uint32) uint32 {
	return uint32(uint64(seq) + uint64(inc)) // implicit modulo operation included
}

// isBetweenWrapped reports whether x lies strictly inside the circular interval
// that starts just after start and ends just before end. x == start is never inside.
func isBetweenWrapped(start, x, end uint32) bool {
	switch {
	case start == x:
		return false
	case start < x:
		//	0 |-------------S------X---E----------------| inside
		//	0 |---------E---S------X--------------------| inside
		//	0 |-------------S--E---X--------------------| outside
		// in other words inside iff !(S <= E <= X)
		if end >= start && end <= x {
			return false
		}
	default:
		//	0 |-------------X--E---S--------------------| inside
		//	0 |-------------X------S---E----------------| outside
		//	0 |---------E---X------S--------------------| outside
		// in other words inside iff X < E < S
		if !(end < start && end > x) {
			return false
		}
	}
	return true
}
