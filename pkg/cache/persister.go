package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nobletooth/pantry/pkg/storage"
)

// persister writes snapshots to the backing store, either inline or from a single background writer.
// In the background mode only the newest pending snapshot is kept; an older one that was not picked up yet
// is dropped since the newer one supersedes it. Callers must serialize calls to submit.
type persister struct {
	store    storage.BlobStore
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *engineMetrics
	failures atomic.Uint64

	async   atomic.Bool
	pending chan []byte        // Holds at most one snapshot waiting for the writer.
	flushes chan chan struct{} // Flush requests; closed by the writer once the pending snapshot is written.
	stop    chan struct{}
	stopped chan struct{}
}

func newPersister(store storage.BlobStore, timeout time.Duration, logger *slog.Logger,
	metrics *engineMetrics) *persister {
	return &persister{
		store:   store,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		pending: make(chan []byte, 1),
		flushes: make(chan chan struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// start launches the background writer. From then on submit no longer blocks on the store.
func (p *persister) start() {
	p.async.Store(true)
	go p.run()
}

func (p *persister) run() {
	defer close(p.stopped)
	for {
		select {
		case blob := <-p.pending:
			p.write(blob)
		case done := <-p.flushes:
			p.drain()
			close(done)
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	select {
	case blob := <-p.pending:
		p.write(blob)
	default:
	}
}

// submit hands a snapshot over for writing.
func (p *persister) submit(blob []byte) {
	if !p.async.Load() {
		p.write(blob)
		return
	}
	select {
	case <-p.pending: // Superseded by `blob`.
	default:
	}
	p.pending <- blob
}

func (p *persister) write(blob []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.Save(ctx, blob); err != nil {
		p.failures.Add(1)
		p.metrics.persistErr.Inc()
		p.logger.Error("Failed to persist cache snapshot.", "error", err, "bytes", len(blob))
		return
	}
	p.metrics.persistOK.Inc()
}

// flush blocks until every snapshot submitted before the call is written.
func (p *persister) flush(ctx context.Context) error {
	if !p.async.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case p.flushes <- done:
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the background writer after it wrote the pending snapshot. Later submits write inline.
func (p *persister) close() {
	if !p.async.Load() {
		return
	}
	close(p.stop)
	<-p.stopped
	p.async.Store(false)
}
