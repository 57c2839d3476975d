package daemon

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/mopub/statsite"
)

// SinkFactory opens the byte sink for one flush. Each flush gets a fresh
// sink; Close is called when the flush is done, successful or not.
type SinkFactory func() (io.WriteCloser, error)

// Daemon owns the current-epoch registry and the flush protocol. Ingress
// feeds samples through Accept; a rotation atomically swaps in a fresh
// registry and hands the retired one to a background worker that streams
// it to a sink.
type Daemon struct {
	logger        logrus.FieldLogger
	opts          statsite.RegistryOptions
	flushInterval time.Duration
	inputCounter  string
	binaryStream  bool
	newSink       SinkFactory

	// mu guards current. Ingress holds the read side for the duration of
	// one sample so that no sample straddles a rotation.
	mu      sync.RWMutex
	current *statsite.Registry

	flushWG sync.WaitGroup
}

// DaemonConfig carries the construction parameters for a Daemon.
type DaemonConfig struct {
	Logger          logrus.FieldLogger
	RegistryOptions statsite.RegistryOptions
	FlushInterval   time.Duration
	InputCounter    string
	BinaryStream    bool
	SinkFactory     SinkFactory
}

// NewDaemon creates a Daemon with an empty registry whose epoch starts now.
func NewDaemon(conf DaemonConfig, now time.Time) *Daemon {
	return &Daemon{
		logger:        conf.Logger,
		opts:          conf.RegistryOptions,
		flushInterval: conf.FlushInterval,
		inputCounter:  conf.InputCounter,
		binaryStream:  conf.BinaryStream,
		newSink:       conf.SinkFactory,
		current:       statsite.NewRegistry(conf.RegistryOptions, now),
	}
}

// Accept folds one parsed sample into the current registry. After
// FinalFlush it is a no-op. It never blocks on the serializer.
func (d *Daemon) Accept(s *statsite.Sample) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r := d.current
	if r == nil {
		return
	}
	if d.inputCounter != "" {
		r.AddSample(statsite.COUNTER, d.inputCounter, 1)
	}
	var ok bool
	if s.Type == statsite.SET {
		ok = r.SetUpdate(s.Name, s.StringValue)
	} else {
		ok = r.AddSample(s.Type, s.Name, s.Value)
	}
	if !ok {
		// The name is bound to a different type for this epoch; the sample
		// is dropped rather than reinterpreted.
		d.logger.WithField("name", s.Name).WithField("type", s.Type).Debug("Dropping sample with conflicting type")
	}
}

// Flush is a handle on one background flush worker.
type Flush struct {
	done chan struct{}
}

// Done is closed when the worker has finished streaming and the retired
// registry has been destroyed.
func (f *Flush) Done() <-chan struct{} {
	return f.done
}

// Rotate swaps the current registry with a fresh one whose epoch starts at
// now, and schedules the retired registry for serialization on a background
// worker. The swap is a single point in time for every ingress goroutine.
func (d *Daemon) Rotate(now time.Time) *Flush {
	fresh := statsite.NewRegistry(d.opts, now)

	d.mu.Lock()
	old := d.current
	if old != nil {
		// After FinalFlush the daemon stays drained.
		d.current = fresh
	}
	d.mu.Unlock()

	return d.flushAsync(old, now)
}

// FinalFlush performs one last rotation, leaves the daemon drained (further
// Accept calls are no-ops) and joins every outstanding flush worker.
func (d *Daemon) FinalFlush(now time.Time) {
	d.mu.Lock()
	old := d.current
	d.current = nil
	d.mu.Unlock()

	d.flushAsync(old, now)
	d.flushWG.Wait()
}

func (d *Daemon) flushAsync(old *statsite.Registry, now time.Time) *Flush {
	f := &Flush{done: make(chan struct{})}
	if old == nil {
		close(f.done)
		return f
	}
	d.flushWG.Add(1)
	go func() {
		defer close(f.done)
		defer d.flushWG.Done()
		defer old.Destroy()
		d.flush(old, now)
	}()
	return f
}

func (d *Daemon) flush(old *statsite.Registry, now time.Time) {
	sink, err := d.newSink()
	if err != nil {
		d.logger.WithError(err).Error("Failed to open flush sink")
		return
	}
	w := bufio.NewWriter(sink)
	if err := serialize(w, old, now.Unix(), d.binaryStream); err != nil {
		d.logger.WithError(err).Warn("Aborting flush: failed to stream metrics")
	} else if err := w.Flush(); err != nil {
		d.logger.WithError(err).Warn("Aborting flush: failed to stream metrics")
	}
	if err := sink.Close(); err != nil {
		d.logger.WithError(err).Warn("Flush sink closed with error")
	}
}

// Run rotates the registry on every flush interval until the context is
// canceled, then performs the final flush.
func (d *Daemon) Run(ctx context.Context) {
	clck := clock.FromContext(ctx)
	ticker := clck.NewTicker(d.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.FinalFlush(clck.Now())
			return
		case now := <-ticker.C:
			d.Rotate(now)
		}
	}
}
