package daemon

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/mopub/statsite/internal/fixtures"
)

func (r *sinkRecorder) combined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, s := range r.sinks {
		b.Write(s.Bytes())
	}
	return b.String()
}

func TestServerEndToEnd(t *testing.T) {
	t.Parallel()
	rec := &sinkRecorder{}
	s := &Server{
		FlushInterval:   time.Second,
		RegistryOptions: testRegistryOptions(t, nil),
		Logger:          logrus.New(),
		SinkFactory:     rec.Factory(),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	clck := clock.NewMock(time.Unix(1000, 0))
	ctx, cancel := context.WithCancel(clock.Context(context.Background(), clck))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.RunWithCustomSockets(ctx,
			func() (net.Listener, error) { return ln, nil },
			func() (net.PacketConn, error) { return pc, nil })
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("a:1|c\n"))
	require.NoError(t, err)

	udp, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	_, err = udp.Write([]byte("b:2|c\n"))
	require.NoError(t, err)
	defer udp.Close()

	// Keep rotating virtual time until both samples have made it through a
	// flush; samples race the first few rotations but land in one of them.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	for waitCtx.Err() == nil {
		out := rec.combined()
		if strings.Contains(out, "a|1.000000|") && strings.Contains(out, "b|2.000000|") {
			break
		}
		fixtures.NextStep(waitCtx, clck)
	}
	out := rec.combined()
	assert.Contains(t, out, "a|1.000000|")
	assert.Contains(t, out, "b|2.000000|")

	conn.Close()
	cancel()
	require.NoError(t, <-done)
}

func TestServerClosesConnOnBadInput(t *testing.T) {
	t.Parallel()
	rec := &sinkRecorder{}
	s := &Server{
		FlushInterval:   time.Second,
		RegistryOptions: testRegistryOptions(t, nil),
		Logger:          logrus.New(),
		SinkFactory:     rec.Factory(),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.RunWithCustomSockets(ctx,
			func() (net.Listener, error) { return ln, nil }, nil)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("garbage\n"))
	require.NoError(t, err)

	// The server closes its end; the read unblocks with EOF.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)

	cancel()
	require.NoError(t, <-done)
}
