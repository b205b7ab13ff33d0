package domain

// Canonical swap intervals in seconds, in slot order.
const (
	IntervalOneMinute      uint32 = 60
	IntervalFiveMinutes    uint32 = 300
	IntervalFifteenMinutes uint32 = 900
	IntervalThirtyMinutes  uint32 = 1800
	IntervalOneHour        uint32 = 3600
	IntervalFourHours      uint32 = 14400
	IntervalOneDay         uint32 = 86400
	IntervalOneWeek        uint32 = 604800
)

// IntervalSlots is the number of canonical swap intervals.
const IntervalSlots = 8

var intervals = [IntervalSlots]uint32{
	IntervalOneMinute,
	IntervalFiveMinutes,
	IntervalFifteenMinutes,
	IntervalThirtyMinutes,
	IntervalOneHour,
	IntervalFourHours,
	IntervalOneDay,
	IntervalOneWeek,
}

// Intervals returns the canonical swap intervals in slot order.
func Intervals() []uint32 {
	out := make([]uint32, IntervalSlots)
	copy(out, intervals[:])
	return out
}

// IntervalIndex maps a swap interval to its slot.
// Unrecognized intervals fall back to the last slot (one week).
func IntervalIndex(interval uint32) int {
	for i, iv := range intervals {
		if iv == interval {
			return i
		}
	}
	return IntervalSlots - 1
}

// IntervalsFromByte decodes the intervals bitmask of a swap.
// Bit i set means the interval in slot i was executed.
func IntervalsFromByte(mask byte) []uint32 {
	var out []uint32
	for i := 0; mask > 0; i++ {
		if mask&1 == 1 {
			out = append(out, intervals[i])
		}
		mask >>= 1
	}
	return out
}

// IntervalsToByte encodes a set of canonical intervals into a bitmask.
func IntervalsToByte(ivs []uint32) byte {
	var mask byte
	for _, iv := range ivs {
		mask |= 1 << IntervalIndex(iv)
	}
	return mask
}

// SwapInterval tracks whether the hub allows positions with a given interval.
// ID is the interval in seconds.
type SwapInterval struct {
	ID       string `json:"id"`
	Interval uint32 `json:"interval"`
	Active   bool   `json:"active"`
}
