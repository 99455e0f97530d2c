package triage

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

const (
	DefaultDispatchWorkers = 2
	DefaultDispatchQueue   = 64
	DefaultCaptureTimeout  = 30 * time.Second

	journalWriteTimeout = 2 * time.Second
)

// DispatchHooks are optional callbacks for instrumentation.
type DispatchHooks struct {
	OnDrop     func(source SourceKind)
	OnComplete func(source SourceKind, chars int, duration float64, isError bool)
}

// DispatchOptions tunes the Dispatcher. Zero values take the defaults.
type DispatchOptions struct {
	Workers int
	Queue   int
	Timeout time.Duration
	Hooks   DispatchHooks
}

// Dispatcher submits capture events to a CaptureSink in the background.
// Enqueue never waits on the sink: when the queue is full the oldest queued
// event is dropped. Every event is journaled as pending when queued and
// later as sent, failed or dropped, when a Journal is configured.
type Dispatcher struct {
	sink    CaptureSink
	journal Journal
	logger  log.Logger
	opts    DispatchOptions

	mu      sync.Mutex
	queue   []*CaptureEvent
	closed  bool
	closing chan struct{}
	wake    chan struct{}
	workers sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. journal may be nil.
func NewDispatcher(sink CaptureSink, journal Journal, logger log.Logger, opts DispatchOptions) *Dispatcher {
	if sink == nil {
		panic(xerrors.New("capture sink is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultDispatchWorkers
	}
	if opts.Queue <= 0 {
		opts.Queue = DefaultDispatchQueue
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCaptureTimeout
	}
	return &Dispatcher{
		sink:    sink,
		journal: journal,
		logger:  logger,
		opts:    opts,
		queue:   make([]*CaptureEvent, 0, opts.Queue),
		closing: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker goroutines. Workers exit when ctx is cancelled,
// or after Close once the queue is empty. Anything still queued on
// cancellation stays queued until Abandon.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.workers.Add(1)
		go d.work(ctx)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.workers.Wait()
}

// Stopped returns a channel that is closed once every worker has exited.
func (d *Dispatcher) Stopped() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(ch)
	}()
	return ch
}

// Enqueue queues ev for submission. It returns false only if the dispatcher
// is closed.
func (d *Dispatcher) Enqueue(ev *CaptureEvent) bool {
	// journaled before any worker can see ev, so pending never overwrites
	// the outcome
	d.mark(ev, EntryPending, "")

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.mark(ev, EntryDropped, "dispatcher closed")
		return false
	}
	var dropped *CaptureEvent
	if len(d.queue) >= d.opts.Queue {
		dropped = d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	d.signal()

	if dropped != nil {
		if d.opts.Hooks.OnDrop != nil {
			d.opts.Hooks.OnDrop(dropped.Source)
		}
		d.logger.Warn(context.Background(), "dispatch queue full, dropped oldest capture",
			"dropped_id", dropped.ID,
			"dropped_source", dropped.Source,
		)
		d.mark(dropped, EntryDropped, "queue full")
	}
	return true
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting new events. Workers keep submitting what is already
// queued and exit once the queue is empty.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.closing)
}

// Abandon empties the queue and journals every event still in it as
// dropped. It returns how many events were abandoned.
func (d *Dispatcher) Abandon() int {
	d.mu.Lock()
	left := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, ev := range left {
		d.abandon(ev)
	}
	return len(left)
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// pop returns the oldest queued event, or nil when the queue is empty along
// with whether the dispatcher is closed.
func (d *Dispatcher) pop() (*CaptureEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, d.closed
	}
	ev := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	// pass the wakeup on so idle workers drain the rest
	if len(d.queue) > 0 {
		d.signal()
	}
	return ev, d.closed
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.workers.Done()
	for {
		ev, closed := d.pop()
		if ev == nil {
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-d.closing:
			case <-d.wake:
			}
			continue
		}
		if ctx.Err() != nil {
			d.abandon(ev)
			return
		}
		d.submit(ctx, ev)
	}
}

func (d *Dispatcher) abandon(ev *CaptureEvent) {
	if d.opts.Hooks.OnDrop != nil {
		d.opts.Hooks.OnDrop(ev.Source)
	}
	d.mark(ev, EntryDropped, "shutdown")
}

// mark journals ev with a status that carries no submission result.
func (d *Dispatcher) mark(ev *CaptureEvent, status EntryStatus, reason string) {
	if d.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	entry := &Entry{
		ID:        ev.ID,
		Source:    ev.Source,
		App:       ev.App(),
		Status:    status,
		Error:     reason,
		Chars:     utf8.RuneCountInString(ev.Text),
		CreatedAt: ev.CreatedAt,
	}
	if status == EntryDropped {
		entry.CompletedAt = time.Now()
	}
	if err := d.journal.Put(ctx, entry); err != nil {
		d.logger.Error(ctx, err, "failed to record capture in journal", "capture_id", ev.ID, "status", status)
	}
}

func (d *Dispatcher) submit(ctx context.Context, ev *CaptureEvent) {
	L := d.logger.With("capture_id", ev.ID, "source", ev.Source)

	cctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	remoteID, err := d.sink.Capture(cctx, ev)
	dur := time.Since(start).Seconds()
	chars := utf8.RuneCountInString(ev.Text)

	if d.opts.Hooks.OnComplete != nil {
		d.opts.Hooks.OnComplete(ev.Source, chars, dur, err != nil)
	}
	if err != nil {
		L.Warn(ctx, "capture submission failed", "error", err)
	}

	record(ctx, d.journal, L, ev, remoteID, err, start)
}

// record writes the outcome of a capture submission to the journal.
func record(ctx context.Context, journal Journal, L log.Logger, ev *CaptureEvent, remoteID string, err error, start time.Time) {
	if journal == nil {
		return
	}
	entry := &Entry{
		ID:          ev.ID,
		Source:      ev.Source,
		App:         ev.App(),
		Status:      EntrySent,
		RemoteID:    remoteID,
		Chars:       utf8.RuneCountInString(ev.Text),
		CreatedAt:   ev.CreatedAt,
		CompletedAt: time.Now(),
		Duration:    time.Since(start).Seconds(),
	}
	if err != nil {
		entry.Status = EntryFailed
		entry.Error = err.Error()
	}
	if jerr := journal.Put(context.WithoutCancel(ctx), entry); jerr != nil {
		L.Error(ctx, jerr, "failed to record capture in journal")
	}
}
