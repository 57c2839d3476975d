package daemon

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/mopub/statsite"
)

// Output value-type codes for binary flush records. They describe what the
// record's double represents.
const (
	binOutNoType    = 0x0
	binOutSum       = 0x1
	binOutSumSq     = 0x2
	binOutMean      = 0x3
	binOutCount     = 0x4
	binOutStdDev    = 0x5
	binOutMin       = 0x6
	binOutMax       = 0x7
	binOutHistFloor = 0x8
	binOutHistBin   = 0x9
	binOutHistCeil  = 0xa
	binOutPct       = 0x80
)

// serialize walks a retired registry and writes one record per derived
// statistic. ts is the rotation timestamp in Unix seconds. Within one
// metric the record order is fixed; across metrics it is unspecified.
func serialize(w io.Writer, r *statsite.Registry, ts int64, binaryStream bool) error {
	if binaryStream {
		return r.Each(func(name string, e *statsite.Entry) error {
			return writeBinaryMetric(w, ts, name, e)
		})
	}
	return r.Each(func(name string, e *statsite.Entry) error {
		return writeTextMetric(w, ts, name, e)
	})
}

func writeTextMetric(w io.Writer, ts int64, name string, e *statsite.Entry) error {
	switch e.Type {
	case statsite.KEYVAL:
		for _, v := range e.KeyVal.Values {
			if _, err := fmt.Fprintf(w, "%s|%f|%d\n", name, v, ts); err != nil {
				return err
			}
		}
		return nil

	case statsite.GAUGE:
		_, err := fmt.Fprintf(w, "%s|%f|%d\n", name, e.Gauge.Value, ts)
		return err

	case statsite.COUNTER:
		_, err := fmt.Fprintf(w, "%s|%f|%d\n", name, e.Counter.Sum, ts)
		return err

	case statsite.SET:
		_, err := fmt.Fprintf(w, "%s|%d|%d\n", name, e.Set.Cardinality(), ts)
		return err

	case statsite.TIMER:
		t := e.Timer
		lines := []struct {
			suffix string
			value  float64
		}{
			{"sum", t.Sum},
			{"sum_sq", t.SumSquares},
			{"mean", t.Mean()},
			{"lower", t.Min},
			{"upper", t.Max},
		}
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, "timers.%s.%s|%f|%d\n", name, l.suffix, l.value, ts); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "timers.%s.count|%d|%d\n", name, t.Count, ts); err != nil {
			return err
		}
		lines = []struct {
			suffix string
			value  float64
		}{
			{"stdev", t.StdDev()},
			{"median", t.Query(0.5)},
			{"upper_90", t.Query(0.9)},
			{"upper_95", t.Query(0.95)},
			{"upper_99", t.Query(0.99)},
		}
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, "timers.%s.%s|%f|%d\n", name, l.suffix, l.value, ts); err != nil {
				return err
			}
		}
		if t.Histogram != nil {
			if err := writeTextHistogram(w, ts, name, t.Histogram); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown metric type: %d", e.Type)
}

func writeTextHistogram(w io.Writer, ts int64, name string, h *statsite.Histogram) error {
	conf := h.Config
	if _, err := fmt.Fprintf(w, "%s.histogram.bin_<%0.2f|%d|%d\n", name, conf.Min, h.Counts[0], ts); err != nil {
		return err
	}
	for i := 0; i < conf.NumBins-2; i++ {
		edge := conf.Min + conf.BinWidth*float64(i)
		if _, err := fmt.Fprintf(w, "%s.histogram.bin_%0.2f|%d|%d\n", name, edge, h.Counts[i+1], ts); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s.histogram.bin_>%0.2f|%d|%d\n", name, conf.Max, h.Counts[conf.NumBins-1], ts)
	return err
}

// writeBinaryRecord writes one packed flush record:
//
//	timestamp:u64 | type:u8 | value_type:u8 | key_len:u16 | value:f64
//
// followed by the NUL-terminated metric name. key_len includes the NUL.
func writeBinaryRecord(w io.Writer, ts int64, mtype statsite.MetricType, valType byte, val float64, name string) error {
	keyLen := len(name) + 1
	var prefix [20]byte
	binary.LittleEndian.PutUint64(prefix[0:8], uint64(ts))
	prefix[8] = byte(mtype)
	prefix[9] = valType
	binary.LittleEndian.PutUint16(prefix[10:12], uint16(keyLen))
	binary.LittleEndian.PutUint64(prefix[12:20], math.Float64bits(val))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func writeBinaryCount(w io.Writer, count uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], count)
	_, err := w.Write(buf[:])
	return err
}

func writeBinaryMetric(w io.Writer, ts int64, name string, e *statsite.Entry) error {
	switch e.Type {
	case statsite.KEYVAL:
		for _, v := range e.KeyVal.Values {
			if err := writeBinaryRecord(w, ts, statsite.KEYVAL, binOutNoType, v, name); err != nil {
				return err
			}
		}
		return nil

	case statsite.GAUGE:
		return writeBinaryRecord(w, ts, statsite.GAUGE, binOutNoType, e.Gauge.Value, name)

	case statsite.SET:
		return writeBinaryRecord(w, ts, statsite.SET, binOutSum, float64(e.Set.Cardinality()), name)

	case statsite.COUNTER:
		return writeBinaryMoments(w, ts, statsite.COUNTER, name, e.Counter)

	case statsite.TIMER:
		t := e.Timer
		if err := writeBinaryMoments(w, ts, statsite.TIMER, name, &t.Counter); err != nil {
			return err
		}
		for _, q := range statsite.Quantiles {
			valType := byte(binOutPct | int(q*100))
			if err := writeBinaryRecord(w, ts, statsite.TIMER, valType, t.Query(q), name); err != nil {
				return err
			}
		}
		if t.Histogram != nil {
			if err := writeBinaryHistogram(w, ts, name, t.Histogram); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown metric type: %d", e.Type)
}

func writeBinaryMoments(w io.Writer, ts int64, mtype statsite.MetricType, name string, c *statsite.Counter) error {
	records := []struct {
		valType byte
		value   float64
	}{
		{binOutSum, c.Sum},
		{binOutSumSq, c.SumSquares},
		{binOutMean, c.Mean()},
		{binOutCount, float64(c.Count)},
		{binOutStdDev, c.StdDev()},
		{binOutMin, c.Min},
		{binOutMax, c.Max},
	}
	for _, rec := range records {
		if err := writeBinaryRecord(w, ts, mtype, rec.valType, rec.value, name); err != nil {
			return err
		}
	}
	return nil
}

func writeBinaryHistogram(w io.Writer, ts int64, name string, h *statsite.Histogram) error {
	conf := h.Config
	if err := writeBinaryRecord(w, ts, statsite.TIMER, binOutHistFloor, conf.Min, name); err != nil {
		return err
	}
	if err := writeBinaryCount(w, h.Counts[0]); err != nil {
		return err
	}
	for i := 0; i < conf.NumBins-2; i++ {
		edge := conf.Min + conf.BinWidth*float64(i)
		if err := writeBinaryRecord(w, ts, statsite.TIMER, binOutHistBin, edge, name); err != nil {
			return err
		}
		if err := writeBinaryCount(w, h.Counts[i+1]); err != nil {
			return err
		}
	}
	if err := writeBinaryRecord(w, ts, statsite.TIMER, binOutHistCeil, conf.Max, name); err != nil {
		return err
	}
	return writeBinaryCount(w, h.Counts[conf.NumBins-1])
}
