package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadCSV reads a bar series from a CSV file with columns
// time,open,high,low,close[,volume]. A header row is detected by the first
// column reading "time". Timestamps may be RFC3339 or plain dates
// (2006-01-02).
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out Series

	first, err := r.Read()
	if err == io.EOF {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	hasHeader := len(first) > 0 && strings.EqualFold(strings.TrimSpace(first[0]), "time")
	if !hasHeader {
		b, err := parseBarRow(first)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		b, err := parseBarRow(row)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && !b.Time.After(out[len(out)-1].Time) {
			return nil, fmt.Errorf("bars out of order at %s", b.Time.Format(time.RFC3339))
		}
		out = append(out, b)
	}

	return out, nil
}

func parseBarRow(row []string) (Bar, error) {
	if len(row) < 5 {
		return Bar{}, fmt.Errorf("bad row (need time,open,high,low,close[,volume]): %v", row)
	}

	ts, err := parseBarTime(strings.TrimSpace(row[0]))
	if err != nil {
		return Bar{}, err
	}

	vals := make([]float64, 0, 5)
	for i := 1; i < len(row) && i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad value %q: %w", row[i], err)
		}
		vals = append(vals, v)
	}

	b := Bar{
		Time:  ts,
		Open:  vals[0],
		High:  vals[1],
		Low:   vals[2],
		Close: vals[3],
	}
	if len(vals) > 4 {
		b.Volume = vals[4]
	}
	return b, nil
}

func parseBarTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t, nil
}
