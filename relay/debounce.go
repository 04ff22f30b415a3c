package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrFinalFlush wraps the store error of a teardown flush that failed. The
// disconnect itself still completes.
var ErrFinalFlush = errors.New("final flush failed")

type flushMode int

const (
	// flushTick logs a failed write; the next tick retries it.
	flushTick flushMode = iota
	// flushStrict returns a failed write to the caller. The snapshot stays dirty.
	flushStrict
	// flushFinal returns a failed write wrapped in ErrFinalFlush. The room is
	// discarded afterwards.
	flushFinal
)

func (m flushMode) String() string {
	switch m {
	case flushTick:
		return "tick"
	case flushStrict:
		return "strict"
	case flushFinal:
		return "final"
	}
	return "unknown"
}

// flush writes the snapshot if it changed since the last successful write.
// On failure the snapshot stays dirty.
func (rm *room) flush(mode flushMode) error {
	if !rm.loaded || !rm.dirty {
		return nil
	}

	ctx, cancel := rm.storeContext()
	defer cancel()

	log := logrus.WithFields(logrus.Fields{
		"document_id": rm.id,
		"entries":     len(rm.log),
		"mode":        mode,
	})

	if err := rm.svc.store.Upsert(ctx, rm.id, rm.log.Encode(), rm.title); err != nil {
		switch mode {
		case flushFinal:
			log.WithError(err).Warn("Final flush failed, discarding snapshot")
			return fmt.Errorf("%w for document %s: %w", ErrFinalFlush, rm.id, err)
		case flushStrict:
			log.WithError(err).Error("Flush failed")
			return fmt.Errorf("flush document %s: %w", rm.id, err)
		}
		log.WithError(err).Error("Flush failed, will retry on next tick")
		return nil
	}

	rm.dirty = false
	log.Debug("Snapshot flushed")
	return nil
}

// teardown runs once the room has no members, before it is discarded.
func (rm *room) teardown() error {
	return rm.flush(flushFinal)
}

// debouncer schedules periodic flushes for every live room.
type debouncer struct {
	interval time.Duration
	registry *registry

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func newDebouncer(interval time.Duration, reg *registry) *debouncer {
	return &debouncer{interval: interval, registry: reg}
}

func (d *debouncer) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	d.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)
	d.cron.Schedule(cron.Every(d.interval), cron.FuncJob(d.tick))
	d.cron.Start()
	d.running = true

	logrus.WithField("interval", d.interval).Info("Persistence debouncer started")
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	<-d.cron.Stop().Done()
	d.running = false
}

func (d *debouncer) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), d.interval+time.Minute)
	defer cancel()
	d.flushAll(ctx, opFlush)
}

// flushAll queues a flush of the given kind on every live room and waits for
// all of them. Only opSync reports store failures.
func (d *debouncer) flushAll(ctx context.Context, kind opKind) error {
	var ops []*op
	for _, rm := range d.registry.live() {
		o := newOp(kind, nil, Message{DocumentID: rm.id})
		if d.registry.submitTo(rm, o) {
			ops = append(ops, o)
		}
	}

	var errs []error
	for _, o := range ops {
		select {
		case err := <-o.reply:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}
