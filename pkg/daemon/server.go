package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ash2k/stager"
	"github.com/cenkalti/backoff"
	"github.com/libp2p/go-reuseport"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"
	"golang.org/x/time/rate"

	"github.com/mopub/statsite"
	"github.com/mopub/statsite/pkg/web"
)

// ip packet size is stored in two bytes and that is how big in theory the
// packet can be. In practice it is highly unlikely but still possible to get
// packets bigger than usual MTU of 1500.
const packetSizeUDP = 0xffff

const readBufSize = 64 * 1024

// Server encapsulates all of the parameters necessary for starting up the
// daemon. These can either be set via command line or directly.
type Server struct {
	MetricsAddr               string
	MetricsAddrUDP            string
	WebAddr                   string
	FlushInterval             time.Duration
	BinaryStream              bool
	StreamCmd                 string
	InputCounter              string
	RegistryOptions           statsite.RegistryOptions
	BadLineRateLimitPerSecond rate.Limit
	Logger                    logrus.FieldLogger
	SinkFactory               SinkFactory // overrides StreamCmd, used by tests
}

// SocketFactory is an indirection layer over reuseport.Listen() to allow
// for different implementations.
type SocketFactory func() (net.Listener, error)

// PacketSocketFactory is an indirection layer over reuseport.ListenPacket().
type PacketSocketFactory func() (net.PacketConn, error)

// Run runs the server until the context signals done, then drains the
// listeners and performs the final flush.
func (s *Server) Run(ctx context.Context) error {
	var pf PacketSocketFactory
	if s.MetricsAddrUDP != "" {
		pf = func() (net.PacketConn, error) {
			return reuseport.ListenPacket("udp", s.MetricsAddrUDP)
		}
	}
	return s.RunWithCustomSockets(ctx, func() (net.Listener, error) {
		return reuseport.Listen("tcp", s.MetricsAddr)
	}, pf)
}

// RunWithCustomSockets runs the server with sockets created using the
// provided factories. pf may be nil to disable UDP ingestion.
func (s *Server) RunWithCustomSockets(ctx context.Context, sf SocketFactory, pf PacketSocketFactory) error {
	clck := clock.FromContext(ctx)

	sink := s.SinkFactory
	if sink == nil {
		sink = NewCommandSinkFactory(s.Logger, s.StreamCmd)
	}
	d := NewDaemon(DaemonConfig{
		Logger:          s.Logger,
		RegistryOptions: s.RegistryOptions,
		FlushInterval:   s.FlushInterval,
		InputCounter:    s.InputCounter,
		BinaryStream:    s.BinaryStream,
		SinkFactory:     sink,
	}, clck.Now())

	ln, err := sf()
	if err != nil {
		return err
	}
	defer ln.Close()

	var pc net.PacketConn
	if pf != nil {
		pc, err = pf()
		if err != nil {
			return err
		}
		defer pc.Close()
	}

	var limiter *rate.Limiter
	if s.BadLineRateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(s.BadLineRateLimitPerSecond, 1)
	}

	stgr := stager.New()
	stage := stgr.NextStage()
	stage.StartWithContext(d.Run) // Flusher; shut down last so listeners drain first
	stage = stgr.NextStage()
	stage.StartWithContext(func(ctx context.Context) {
		s.acceptLoop(ctx, ln, d, limiter)
	})
	if pc != nil {
		stage.StartWithContext(func(ctx context.Context) {
			s.readPackets(ctx, pc, d, limiter)
		})
	}
	if s.WebAddr != "" {
		stage.StartWithContext(web.NewServer(s.Logger, s.WebAddr).Run)
	}

	<-ctx.Done()
	// Unblock Accept/ReadFrom so the listener stage can wind down.
	ln.Close()
	if pc != nil {
		pc.Close()
	}
	stgr.Shutdown()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, d *Daemon, limiter *rate.Limiter) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				wait := bo.NextBackOff()
				s.Logger.WithError(err).WithField("wait", wait).Warn("Temporary accept error")
				if !sleep(ctx, wait) {
					return
				}
				continue
			}
			s.Logger.WithError(err).Error("Accept failed")
			return
		}
		bo.Reset()
		go s.serveConn(ctx, conn, d, limiter)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, d *Daemon, limiter *rate.Limiter) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	logger := s.Logger.WithField("client", conn.RemoteAddr().String())
	h := NewConnHandler(d, logger, limiter)
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if perr := h.Push(buf[:n]); perr != nil {
				// Bad bytes poison the connection; the client reconnects.
				return
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.WithError(err).Debug("Connection read failed")
			}
			return
		}
	}
}

func (s *Server) readPackets(ctx context.Context, pc net.PacketConn, d *Daemon, limiter *rate.Limiter) {
	buf := make([]byte, packetSizeUDP)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && !ne.Temporary() {
				s.Logger.WithError(err).Error("Non-temporary error reading from UDP socket")
				return
			}
			s.Logger.WithError(err).Warn("Error reading from UDP socket")
			continue
		}
		// Each datagram gets a fresh handler; a truncated trailing record
		// has no further bytes coming and is discarded with the handler.
		h := NewConnHandler(d, s.Logger.WithField("client", addr.String()), limiter)
		_ = h.Push(buf[:n])
	}
}

// sleep waits for d on the context clock, returning false if the context
// was canceled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := clock.FromContext(ctx).NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}
