package statsite

import "math"

// Counter accumulates the running moments of a stream of values. It backs
// both counter metrics and the moment half of timers.
type Counter struct {
	Count      uint64  // Number of samples folded in
	Sum        float64 // Sum of the samples
	SumSquares float64 // Sum of the squared samples
	Min        float64 // Smallest sample seen
	Max        float64 // Largest sample seen
}

// Add folds a value into the counter.
func (c *Counter) Add(v float64) {
	if c.Count == 0 || v < c.Min {
		c.Min = v
	}
	if c.Count == 0 || v > c.Max {
		c.Max = v
	}
	c.Count++
	c.Sum += v
	c.SumSquares += v * v
}

// Mean returns the mean of the samples, or 0 if there are none.
func (c *Counter) Mean() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Sum / float64(c.Count)
}

// StdDev returns the sample standard deviation derived from the moments,
// or 0 for fewer than two samples.
func (c *Counter) StdDev() float64 {
	if c.Count < 2 {
		return 0
	}
	count := float64(c.Count)
	num := count*c.SumSquares - c.Sum*c.Sum
	div := count * (count - 1)
	if num < 0 {
		// Guard against floating point cancellation on near-constant streams.
		return 0
	}
	return math.Sqrt(num / div)
}
