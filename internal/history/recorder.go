package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/arbitration"
)

// Recorder defaults.
const (
	DefaultQueueSize = 32
	pruneInterval    = time.Hour
	writeTimeout     = 5 * time.Second
)

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder writes lease events to a Repository from a background goroutine.
//
// The writer outlives cancellation of the context passed to Start so that
// the release published during agent shutdown is still stored; Stop is the
// only way to end it.
//
// Thread Safety:
//   - Record is safe for concurrent use and never blocks.
type Recorder struct {
	repo      Repository
	deviceID  string
	retention time.Duration
	queue     chan Event
	logger    Logger

	dropped atomic.Uint64
	written atomic.Uint64

	// mu guards closed against sends racing the final drain.
	mu     sync.Mutex
	closed bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	DeviceID string

	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	// Retention is how long events are kept. Zero keeps them forever.
	Retention time.Duration
}

// NewRecorder returns a Recorder for repo. Call Start before Record.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Recorder{
		repo:      repo,
		deviceID:  cfg.DeviceID,
		retention: cfg.Retention,
		queue:     make(chan Event, size),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the writer goroutine. Values of ctx are kept but its
// cancellation is ignored; call Stop to end the writer.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx))
}

// Stop writes any queued events and stops the writer. Safe to call more
// than once. Stopping a Recorder that was never started only refuses
// further events.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Record queues a lease event. It has the signature of
// arbitration.Config.OnEvent. Events recorded after Stop are dropped.
func (r *Recorder) Record(ev arbitration.Event) {
	r.mu.Lock()
	queued := false
	if !r.closed {
		select {
		case r.queue <- FromLease(r.deviceID, ev):
			queued = true
		default:
		}
	}
	closed := r.closed
	r.mu.Unlock()

	if queued {
		return
	}
	n := r.dropped.Add(1)
	if r.logger == nil {
		return
	}
	msg := "lease history queue full, event dropped"
	if closed {
		msg = "lease history stopped, event dropped"
	}
	r.logger.Warn(msg,
		"kind", string(ev.Kind),
		"controller_id", ev.ControllerID,
		"dropped_total", n,
	)
}

// Dropped returns how many events were dropped on a full queue or after
// Stop.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Written returns how many events were stored.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	r.prune(ctx)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		case <-ticker.C:
			r.prune(ctx)
		case <-r.done:
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			r.drain(ctx)
			return
		}
	}
}

// drain writes whatever is still queued.
func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &ev); err != nil {
		if r.logger != nil {
			r.logger.Error("failed to store lease event", "kind", string(ev.Kind), "error", err)
		}
		return
	}
	r.written.Add(1)
}

func (r *Recorder) prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	n, err := r.repo.PruneBefore(ctx, time.Now().Add(-r.retention))
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to prune lease history", "error", err)
		}
		return
	}
	if n > 0 && r.logger != nil {
		r.logger.Debug("pruned lease history", "deleted", n)
	}
}
