package statsite

import "fmt"

// MetricType is an enumeration of all the possible types of Metric.
// The numeric values double as the type codes used on the binary wire,
// both inbound and in the serialized flush stream.
type MetricType byte

const (
	// KEYVAL is a key/value pair.
	KEYVAL MetricType = 0x1
	// COUNTER is a statsd counter type.
	COUNTER MetricType = 0x2
	// TIMER is a statsd timer type.
	TIMER MetricType = 0x3
	// SET is a statsd set type.
	SET MetricType = 0x4
	// GAUGE is a statsd gauge type.
	GAUGE MetricType = 0x5
	// GAUGEDELTA is a relative gauge update.
	GAUGEDELTA MetricType = 0x6
)

func (m MetricType) String() string {
	switch m {
	case KEYVAL:
		return "kv"
	case COUNTER:
		return "counter"
	case TIMER:
		return "timer"
	case SET:
		return "set"
	case GAUGE:
		return "gauge"
	case GAUGEDELTA:
		return "gauge-delta"
	}
	return "unknown"
}

// TypeFromBinary returns the MetricType for an inbound binary type code.
func TypeFromBinary(code byte) (MetricType, bool) {
	switch t := MetricType(code); t {
	case KEYVAL, COUNTER, TIMER, SET, GAUGE, GAUGEDELTA:
		return t, true
	}
	return 0, false
}

// Sample represents a single collected datapoint on its way into a Registry.
type Sample struct {
	Name        string     // The name of the metric
	Value       float64    // The numeric value of the metric
	StringValue string     // The string member for SET samples
	Type        MetricType // The type of metric
}

func (s *Sample) String() string {
	if s.Type == SET {
		return fmt.Sprintf("{%s, %s, %s}", s.Type, s.Name, s.StringValue)
	}
	return fmt.Sprintf("{%s, %s, %f}", s.Type, s.Name, s.Value)
}

// Quantiles is the fixed set of quantiles reported for timers.
var Quantiles = []float64{0.5, 0.9, 0.95, 0.99}
