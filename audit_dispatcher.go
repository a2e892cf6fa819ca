package issueguard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errAuditBufferFull = errors.New("audit buffer full")

// auditDispatcher decouples event producers from the sink. A single
// goroutine drains the buffer; Close stops intake and drains what remains.
type auditDispatcher struct {
	cfg       AuditConfig
	sink      AuditSink
	ch        chan AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan AuditEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues an event. Under [AuditBestEffort], a full buffer drops the
// event and counts it. Under [AuditFailClosed], a full buffer returns
// errAuditBufferFull so the caller can refuse the operation it was about to
// record.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.Policy == AuditBestEffort {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return nil
	}

	select {
	case d.ch <- event:
		return nil
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errAuditBufferFull
	}
}

// Close stops intake, drains buffered events into the sink, and waits for
// the drain to finish. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of events discarded under best-effort policy.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
