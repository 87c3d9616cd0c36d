package inventory

// tier is the pure, deterministic classifier: it maps a host's per-cpu
// load averages and declared power index to an integer tier, where higher
// is better and 0 means "unusable". Ordering of the three comparisons is
// load-bearing: short bursts are excused by calm 5-minute and 10-minute
// averages, and only sustained load (the ld10 check) demotes a host all
// the way to 0.
//
// pindex - 1 can be zero or negative for pindex <= 1; any non-positive
// result is clamped to 0, same as the explicit 0 case.
func tier(ld1, ld5, ld10 float64, pindex int) int {
	var t int
	switch {
	case ld1 < 0.9:
		t = pindex
	case ld5 < 0.7:
		t = pindex
	case ld10 < 0.8:
		t = pindex - 1
	default:
		t = 0
	}
	if t <= 0 {
		return 0
	}
	return t
}
