package dynamicmacro

// Pattern is an X-Y-X motif found at the front of a buffer. Both slices are
// newest first, like the buffer they were cut from.
type Pattern struct {
	X []KeyState
	Y []KeyState
}

// CheckRepeat looks for buf[0:size] == buf[size:2*size] and returns the
// largest such size
func CheckRepeat(buf []KeyState) (int, bool) {
	for size := len(buf) / 2; size >= 1; size-- {
		if equal(buf[:size], buf[size:2*size]) {
			return size, true
		}
	}
	return 0, false
}

// CheckPatternXYX looks for buf = X ++ Y ++ X ++ rest. The longest X wins,
// then the shortest Y, then the first candidate in scan order.
func CheckPatternXYX(buf []KeyState) (Pattern, bool) {
	bestX, bestStart := 0, 0

	for xLen := 1; xLen <= len(buf)/2; xLen++ {
		// the first qualifying split of a given X has the shortest Y
		for yStart := xLen; yStart+xLen <= len(buf); yStart++ {
			if equal(buf[:xLen], buf[yStart:yStart+xLen]) {
				bestX, bestStart = xLen, yStart
				break
			}
		}
	}

	if bestX == 0 {
		return Pattern{}, false
	}
	return Pattern{
		X: append([]KeyState(nil), buf[:bestX]...),
		Y: append([]KeyState(nil), buf[bestX:bestStart]...),
	}, true
}

func equal(a, b []KeyState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
