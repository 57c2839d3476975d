package daemon

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mopub/statsite"
)

func testRegistryOptions(t *testing.T, histograms statsite.HistogramResolver) statsite.RegistryOptions {
	newEstimator, err := statsite.NewHLLEstimatorFactory(12)
	require.NoError(t, err)
	return statsite.RegistryOptions{
		NewSketch:    statsite.NewCKMSSketchFactory(0.01, statsite.Quantiles),
		NewEstimator: newEstimator,
		Histograms:   histograms,
	}
}

// captureSink records one flush in memory.
type captureSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *captureSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Bytes()
}

func (s *captureSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// sinkRecorder hands out one captureSink per flush.
type sinkRecorder struct {
	mu    sync.Mutex
	sinks []*captureSink
}

func (r *sinkRecorder) Factory() SinkFactory {
	return func() (io.WriteCloser, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		s := &captureSink{}
		r.sinks = append(r.sinks, s)
		return s, nil
	}
}

func (r *sinkRecorder) Sink(t *testing.T, i int) *captureSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Greater(t, len(r.sinks), i, "flush %d never opened a sink", i)
	return r.sinks[i]
}

func (r *sinkRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

type daemonConfig struct {
	histograms   statsite.HistogramResolver
	inputCounter string
	binaryStream bool
}

func newTestDaemon(t *testing.T, conf daemonConfig) (*Daemon, *sinkRecorder) {
	rec := &sinkRecorder{}
	d := NewDaemon(DaemonConfig{
		Logger:          logrus.New(),
		RegistryOptions: testRegistryOptions(t, conf.histograms),
		FlushInterval:   time.Second,
		InputCounter:    conf.inputCounter,
		BinaryStream:    conf.binaryStream,
		SinkFactory:     rec.Factory(),
	}, time.Unix(100, 0))
	return d, rec
}

// rotateAndWait rotates the daemon and blocks until the flush worker is done.
func rotateAndWait(d *Daemon, ts time.Time) {
	<-d.Rotate(ts).Done()
}

// makeBinaryFrame builds one non-set binary wire command.
func makeBinaryFrame(t *testing.T, code byte, name string, value float64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(binaryMagicByte)
	buf.WriteByte(code)
	key := append([]byte(name), 0)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(key))))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, math.Float64bits(value)))
	buf.Write(key)
	return buf.Bytes()
}

// makeBinarySetFrame builds one binary set wire command.
func makeBinarySetFrame(t *testing.T, name, member string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(binaryMagicByte)
	buf.WriteByte(byte(statsite.SET))
	key := append([]byte(name), 0)
	val := append([]byte(member), 0)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(key))))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(val))))
	buf.Write(key)
	buf.Write(val)
	return buf.Bytes()
}

// binRecord is one decoded flush record, the inverse of writeBinaryRecord.
type binRecord struct {
	ts       uint64
	mtype    byte
	valType  byte
	name     string
	bits     uint64
	count    uint32
	hasCount bool
}

func (r binRecord) value() float64 {
	return math.Float64frombits(r.bits)
}

// readBinaryRecords decodes a whole binary flush stream.
func readBinaryRecords(t *testing.T, data []byte) []binRecord {
	var out []binRecord
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 20, "truncated record prefix")
		rec := binRecord{
			ts:      binary.LittleEndian.Uint64(data[0:8]),
			mtype:   data[8],
			valType: data[9],
			bits:    binary.LittleEndian.Uint64(data[12:20]),
		}
		keyLen := int(binary.LittleEndian.Uint16(data[10:12]))
		require.GreaterOrEqual(t, len(data), 20+keyLen, "truncated record key")
		key := data[20 : 20+keyLen]
		require.NotEmpty(t, key)
		require.EqualValues(t, 0, key[keyLen-1], "key is not NUL terminated")
		rec.name = string(key[:keyLen-1])
		data = data[20+keyLen:]
		switch rec.valType {
		case binOutHistFloor, binOutHistBin, binOutHistCeil:
			require.GreaterOrEqual(t, len(data), 4, "truncated histogram count")
			rec.count = binary.LittleEndian.Uint32(data[:4])
			rec.hasCount = true
			data = data[4:]
		}
		out = append(out, rec)
	}
	return out
}
