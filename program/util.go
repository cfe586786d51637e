package program

import "fmt"

func addU64(a, b uint64) (uint64, error) {
	if b > ^uint64(0)-a {
		return 0, perr(ERR_OVERFLOW, fmt.Sprintf("%d + %d overflows u64", a, b))
	}
	return a + b, nil
}

func subU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, perr(ERR_OVERFLOW, fmt.Sprintf("%d - %d underflows u64", a, b))
	}
	return a - b, nil
}

// bumpTimestamp returns the new last-update marker: the invocation clock, or
// prev+1 when the clock has not moved past prev.
func bumpTimestamp(prev, clock uint64) (uint64, error) {
	if clock > prev {
		return clock, nil
	}
	return addU64(prev, 1)
}
