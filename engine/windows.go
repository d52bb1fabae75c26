package engine

import (
	"fmt"
	"strings"
	"time"
)

// WindowPolicy governs how train/test date ranges are sliced and advanced.
type WindowPolicy int8

const (
	WalkForward WindowPolicy = iota
	FixedWindow
	ExpandingWindow
)

func (p WindowPolicy) String() string {
	switch p {
	case WalkForward:
		return "walk_forward"
	case FixedWindow:
		return "fixed_window"
	case ExpandingWindow:
		return "expanding_window"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "walk_forward", "walk-forward", "walkforward":
		return WalkForward, nil
	case "fixed_window", "fixed-window", "fixed":
		return FixedWindow, nil
	case "expanding_window", "expanding-window", "expanding":
		return ExpandingWindow, nil
	}
	return 0, fmt.Errorf("unknown window policy %q", s)
}

// Window is one train/test cycle. Ranges are half-open: [TrainStart,
// TrainEnd) and [TestStart, TestEnd).
type Window struct {
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// sliceWindows splits [start, end) into train/test cycles. The result is
// deterministic for a given policy and lengths, and the final test window
// always ends exactly at end.
func sliceWindows(policy WindowPolicy, start, end time.Time, trainDays, testDays, stepDays int) []Window {
	var out []Window

	switch policy {
	case FixedWindow:
		// Train once, test the remainder in one pass.
		trainEnd := start.AddDate(0, 0, trainDays)
		if trainEnd.After(end) {
			trainEnd = end
		}
		out = append(out, Window{
			TrainStart: start,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    end,
		})

	case ExpandingWindow:
		// Train start is pinned at start; the train end grows by stepDays
		// each cycle and the test window is the next stepDays-long slice.
		for trainEnd := start.AddDate(0, 0, trainDays); trainEnd.Before(end); trainEnd = trainEnd.AddDate(0, 0, stepDays) {
			testEnd := trainEnd.AddDate(0, 0, stepDays)
			if testEnd.After(end) {
				testEnd = end
			}
			out = append(out, Window{
				TrainStart: start,
				TrainEnd:   trainEnd,
				TestStart:  trainEnd,
				TestEnd:    testEnd,
			})
		}

	default: // WalkForward
		// Both windows slide forward by stepDays; the train window keeps a
		// fixed length ending where the test window starts.
		for testStart := start.AddDate(0, 0, trainDays); testStart.Before(end); testStart = testStart.AddDate(0, 0, stepDays) {
			testEnd := testStart.AddDate(0, 0, testDays)
			if testEnd.After(end) {
				testEnd = end
			}
			out = append(out, Window{
				TrainStart: testStart.AddDate(0, 0, -trainDays),
				TrainEnd:   testStart,
				TestStart:  testStart,
				TestEnd:    testEnd,
			})
		}
	}

	return out
}
