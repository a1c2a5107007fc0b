package safe

import "math"

// Int64 converts val to int64, saturating at math.MaxInt64.
func Int64(val uint64) int64 {
	if val > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(val)
}

// Int32 converts val to int32, saturating at the int32 bounds.
func Int32(val int) int32 {
	switch {
	case val > math.MaxInt32:
		return math.MaxInt32
	case val < math.MinInt32:
		return math.MinInt32
	}
	return int32(val)
}
