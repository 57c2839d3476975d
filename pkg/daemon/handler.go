package daemon

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type connMode int

const (
	modeUnknown connMode = iota
	modeText
	modeBinary
)

// ConnHandler drives one connection's byte stream. The first byte selects
// the protocol (0xaa for binary, anything else for statsd text) and the
// mode is fixed for the lifetime of the connection. Bytes are pushed in as
// they arrive; every complete record becomes a sample on the daemon's
// current registry. Protocol errors are returned to the caller, which is
// expected to close the connection; the handler itself keeps no error state.
type ConnHandler struct {
	daemon  *Daemon
	logger  logrus.FieldLogger
	limiter *rate.Limiter // limits logging of bad input, not the input itself
	mode    connMode
	buf     streamBuffer
}

// NewConnHandler initialises a handler for one connection.
func NewConnHandler(d *Daemon, logger logrus.FieldLogger, limiter *rate.Limiter) *ConnHandler {
	return &ConnHandler{
		daemon:  d,
		logger:  logger,
		limiter: limiter,
	}
}

// Push appends newly received bytes and consumes as many complete records
// as possible. It returns nil when the stream is merely waiting for more
// data, and an error when the connection must be closed.
func (h *ConnHandler) Push(p []byte) error {
	h.buf.Append(p)

	if h.mode == modeUnknown {
		first, ok := h.buf.PeekByte()
		if !ok {
			return nil
		}
		if first == binaryMagicByte {
			h.mode = modeBinary
		} else {
			h.mode = modeText
		}
	}

	if h.mode == modeBinary {
		return h.drainBinary()
	}
	return h.drainText()
}

func (h *ConnHandler) drainText() error {
	for {
		line, ok := h.buf.ExtractUntil('\n')
		if !ok {
			return nil
		}
		sample, err := parseLine(line)
		if err != nil {
			if h.limiter == nil || h.limiter.Allow() {
				h.logger.WithError(err).WithField("line", string(line)).Warn("Failed to parse metric")
			}
			return err
		}
		h.daemon.Accept(&sample)
	}
}

func (h *ConnHandler) drainBinary() error {
	for {
		sample, ok, err := parseBinary(&h.buf)
		if err != nil {
			if h.limiter == nil || h.limiter.Allow() {
				h.logger.WithError(err).Warn("Failed to frame binary metric")
			}
			return err
		}
		if !ok {
			return nil
		}
		h.daemon.Accept(&sample)
	}
}
