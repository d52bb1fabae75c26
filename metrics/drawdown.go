package metrics

// Drawdown tracks the maximum peak-to-trough decline incrementally; each
// Update is O(1).
type Drawdown struct {
	peak float64
	max  float64
}

// Update observes the next capital value.
func (d *Drawdown) Update(capital float64) {
	if capital > d.peak {
		d.peak = capital
	}
	if d.peak > 0 {
		if dd := (d.peak - capital) / d.peak; dd > d.max {
			d.max = dd
		}
	}
}

// Max returns the largest drawdown seen so far as a fraction in [0, 1].
func (d *Drawdown) Max() float64 { return d.max }

// Peak returns the highest capital seen so far.
func (d *Drawdown) Peak() float64 { return d.peak }
