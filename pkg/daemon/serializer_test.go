package daemon

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mopub/statsite"
)

// S1: text counters with a sampled line.
func TestSerializeTextCounter(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("a:1|c\na:2|c\na:3|c@0.5\n")))
	rotateAndWait(d, time.Unix(100, 0))

	assert.Equal(t, "a|9.000000|100\n", string(rec.Sink(t, 0).Bytes()))
}

// S2: text timer with a histogram config of floor, [0,5), [5,10), ceiling.
func TestSerializeTextTimerHistogram(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{
		histograms: statsite.HistogramResolverFunc(func(name string) *statsite.HistogramConfig {
			if name == "a" {
				return &statsite.HistogramConfig{Min: 0, Max: 10, BinWidth: 5, NumBins: 4}
			}
			return nil
		}),
	})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("a:1|m\na:6|m\na:15|m\n")))
	rotateAndWait(d, time.Unix(50, 0))

	out := string(rec.Sink(t, 0).Bytes())
	expected := []string{
		"timers.a.sum|22.000000|50\n",
		"timers.a.sum_sq|262.000000|50\n",
		"timers.a.lower|1.000000|50\n",
		"timers.a.upper|15.000000|50\n",
		"timers.a.count|3|50\n",
		"a.histogram.bin_<0.00|0|50\n",
		"a.histogram.bin_0.00|1|50\n",
		"a.histogram.bin_5.00|1|50\n",
		"a.histogram.bin_>10.00|1|50\n",
	}
	for _, line := range expected {
		assert.Contains(t, out, line)
	}
	// The fixed per-metric record order.
	order := []string{"sum", "sum_sq", "mean", "lower", "upper", "count", "stdev", "median", "upper_90", "upper_95", "upper_99", "histogram.bin_<", "histogram.bin_0.00", "histogram.bin_5.00", "histogram.bin_>"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		require.NotEqual(t, -1, idx, "missing %q", marker)
		require.Greater(t, idx, last, "%q out of order", marker)
		last = idx
	}
}

// S6: a gauge delta without a prior value starts from zero.
func TestSerializeTextGaugeDelta(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("g:+5|g\n")))
	rotateAndWait(d, time.Unix(100, 0))

	assert.Equal(t, "g|5.000000|100\n", string(rec.Sink(t, 0).Bytes()))
}

func TestSerializeTextKeyVal(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("k:1|k\nk:2.5|k\n")))
	rotateAndWait(d, time.Unix(100, 0))

	assert.Equal(t, "k|1.000000|100\nk|2.500000|100\n", string(rec.Sink(t, 0).Bytes()))
}

func TestSerializeTextSet(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("u:alice|s\nu:alice|s\nu:bob|s\n")))
	rotateAndWait(d, time.Unix(100, 0))

	assert.Equal(t, "u|2|100\n", string(rec.Sink(t, 0).Bytes()))
}

// S3: a binary gauge round-trips through the binary flush stream.
func TestSerializeBinaryGauge(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{binaryStream: true})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push(makeBinaryFrame(t, byte(statsite.GAUGE), "g", 42)))
	rotateAndWait(d, time.Unix(100, 0))

	records := readBinaryRecords(t, rec.Sink(t, 0).Bytes())
	require.Len(t, records, 1)
	rec0 := records[0]
	assert.EqualValues(t, 100, rec0.ts)
	assert.EqualValues(t, statsite.GAUGE, rec0.mtype)
	assert.EqualValues(t, binOutNoType, rec0.valType)
	assert.Equal(t, "g", rec0.name)
	assert.Equal(t, 42.0, rec0.value())
}

// S4: binary set cardinality.
func TestSerializeBinarySet(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{binaryStream: true})
	h := NewConnHandler(d, logrus.New(), nil)
	stream := joinBytes(
		makeBinarySetFrame(t, "u", "alice"),
		makeBinarySetFrame(t, "u", "alice"),
		makeBinarySetFrame(t, "u", "alice"),
		makeBinarySetFrame(t, "u", "bob"),
	)
	require.NoError(t, h.Push(stream))
	rotateAndWait(d, time.Unix(100, 0))

	records := readBinaryRecords(t, rec.Sink(t, 0).Bytes())
	require.Len(t, records, 1)
	assert.EqualValues(t, statsite.SET, records[0].mtype)
	assert.EqualValues(t, binOutSum, records[0].valType)
	assert.Equal(t, 2.0, records[0].value())
}

func TestSerializeBinaryCounterRecordOrder(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{binaryStream: true})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("a:2|c\na:4|c\n")))
	rotateAndWait(d, time.Unix(100, 0))

	records := readBinaryRecords(t, rec.Sink(t, 0).Bytes())
	require.Len(t, records, 7)
	expected := []struct {
		valType byte
		value   float64
	}{
		{binOutSum, 6},
		{binOutSumSq, 20},
		{binOutMean, 3},
		{binOutCount, 2},
		{binOutStdDev, math.Sqrt2},
		{binOutMin, 2},
		{binOutMax, 4},
	}
	for i, e := range expected {
		assert.EqualValues(t, statsite.COUNTER, records[i].mtype)
		assert.Equal(t, e.valType, records[i].valType)
		assert.InDelta(t, e.value, records[i].value(), 1e-9)
	}
}

func TestSerializeBinaryTimerRecords(t *testing.T) {
	t.Parallel()
	d, rec := newTestDaemon(t, daemonConfig{
		binaryStream: true,
		histograms: statsite.HistogramResolverFunc(func(name string) *statsite.HistogramConfig {
			return &statsite.HistogramConfig{Min: 0, Max: 10, BinWidth: 5, NumBins: 4}
		}),
	})
	h := NewConnHandler(d, logrus.New(), nil)
	require.NoError(t, h.Push([]byte("a:1|m\na:6|m\na:15|m\n")))
	rotateAndWait(d, time.Unix(100, 0))

	records := readBinaryRecords(t, rec.Sink(t, 0).Bytes())
	// 7 moment records, 4 percentiles, 4 histogram records.
	require.Len(t, records, 15)

	var valTypes []byte
	for _, r := range records {
		valTypes = append(valTypes, r.valType)
	}
	assert.Equal(t, []byte{
		binOutSum, binOutSumSq, binOutMean, binOutCount, binOutStdDev, binOutMin, binOutMax,
		binOutPct | 50, binOutPct | 90, binOutPct | 95, binOutPct | 99,
		binOutHistFloor, binOutHistBin, binOutHistBin, binOutHistCeil,
	}, valTypes)

	hist := records[11:]
	assert.Equal(t, []uint32{0, 1, 1, 1}, []uint32{hist[0].count, hist[1].count, hist[2].count, hist[3].count})
	assert.Equal(t, 0.0, hist[0].value())
	assert.Equal(t, 0.0, hist[1].value())
	assert.Equal(t, 5.0, hist[2].value())
	assert.Equal(t, 10.0, hist[3].value())
}

// Property 5: a serialised binary record re-read by the inverse parser
// yields the exact timestamp, type, value_type, key and bit pattern.
func TestBinaryRecordRoundTrip(t *testing.T) {
	t.Parallel()
	values := []float64{0, 42, -17.25, math.Copysign(0, -1), 1e-300, math.MaxFloat64, math.Inf(1)}
	for _, v := range values {
		var buf bytes.Buffer
		require.NoError(t, writeBinaryRecord(&buf, 1234567890, statsite.TIMER, binOutPct|99, v, "metric.name"))
		records := readBinaryRecords(t, buf.Bytes())
		require.Len(t, records, 1)
		rec := records[0]
		assert.EqualValues(t, 1234567890, rec.ts)
		assert.EqualValues(t, statsite.TIMER, rec.mtype)
		assert.EqualValues(t, binOutPct|99, rec.valType)
		assert.Equal(t, "metric.name", rec.name)
		assert.Equal(t, math.Float64bits(v), rec.bits)
	}
}
