package market

import (
	"sort"
	"time"
)

// Series is an ascending sequence of bars for a single symbol.
//
// Slicing helpers alias the backing array; callers must not mutate bars they
// did not create.
type Series []Bar

func (s Series) Empty() bool { return len(s) == 0 }

// Between returns the sub-series whose timestamps fall in [start, end).
func (s Series) Between(start, end time.Time) Series {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(start) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(end) })
	return s[lo:hi]
}

// Tail returns at most the last n bars.
func (s Series) Tail(n int) Series {
	if n <= 0 {
		return s[len(s):]
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Returns computes simple one-bar returns; the result has len(s)-1 entries.
func (s Series) Returns() []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev := s[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, s[i].Close/prev-1)
	}
	return out
}
