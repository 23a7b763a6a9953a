package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// WriterConfig tunes the asynchronous persistence writer.
type WriterConfig struct {
	QueueSize  int
	Retries    int
	Backoff    time.Duration
	JobTimeout time.Duration
}

const maxWriterBackoff = 30 * time.Second

// AsyncWriter runs persistence and publishing jobs off the arbitration path.
// Jobs sharing a key run in enqueue order. A failing job is parked until its
// backoff elapses and only jobs with the same key wait behind it; other keys
// keep flowing through the worker.
type AsyncWriter struct {
	cfg   WriterConfig
	clock clockwork.Clock
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan *writeJob
	done   chan struct{}
	start  sync.Once

	// owned by the worker goroutine
	waiting []*writeJob
	blocked map[string][]*writeJob
}

type writeJob struct {
	key       string
	name      string
	fn        func(ctx context.Context) error
	attempts  int
	notBefore time.Time
}

func NewAsyncWriter(cfg WriterConfig, clock clockwork.Clock, log zerolog.Logger) *AsyncWriter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AsyncWriter{
		cfg:     cfg,
		clock:   clock,
		log:     log.With().Str("component", "async_writer").Logger(),
		jobs:    make(chan *writeJob, cfg.QueueSize),
		done:    make(chan struct{}),
		blocked: make(map[string][]*writeJob),
	}
}

// Start launches the worker. Calling it more than once is a no-op.
func (w *AsyncWriter) Start() {
	w.start.Do(func() {
		go w.run()
	})
}

// Enqueue schedules fn under key without blocking. It reports false when the
// queue is full or the writer is stopped; the job is dropped and logged.
func (w *AsyncWriter) Enqueue(key, name string, fn func(ctx context.Context) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.Error().Str("key", key).Str("job", name).Msg("writer stopped, dropping job")
		return false
	}
	select {
	case w.jobs <- &writeJob{key: key, name: name, fn: fn}:
		return true
	default:
		w.log.Error().Str("key", key).Str("job", name).Int("queue_size", w.cfg.QueueSize).Msg("persistence queue full, dropping job")
		return false
	}
}

// Stop refuses new jobs, drains the queue including parked retries and
// waits for the worker.
func (w *AsyncWriter) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	w.Start()
	<-w.done
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	jobs := w.jobs
	for {
		w.runDue()
		if jobs == nil && len(w.waiting) == 0 {
			return
		}

		var (
			timer clockwork.Timer
			wake  <-chan time.Time
		)
		if next, ok := w.nextDue(); ok {
			timer = w.clock.NewTimer(w.clock.Until(next))
			wake = timer.Chan()
		}

		select {
		case job, ok := <-jobs:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				jobs = nil
				continue
			}
			w.dispatch(job)
		case <-wake:
		}
	}
}

func (w *AsyncWriter) dispatch(job *writeJob) {
	if backlog, parked := w.blocked[job.key]; parked {
		w.blocked[job.key] = append(backlog, job)
		return
	}
	w.attempt(job)
}

// attempt runs job once and reports whether its key is free again. A failed
// job with retries left is parked and blocks its key.
func (w *AsyncWriter) attempt(job *writeJob) bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	err := job.fn(ctx)
	cancel()
	if err == nil {
		return true
	}

	job.attempts++
	if job.attempts > w.cfg.Retries {
		w.log.Error().
			Err(fmt.Errorf("%w: %v", domain.ErrPersistence, err)).
			Str("key", job.key).
			Str("job", job.name).
			Int("attempts", job.attempts).
			Msg("giving up on job; live session state is unaffected")
		return true
	}

	delay := w.backoff(job.attempts)
	job.notBefore = w.clock.Now().Add(delay)
	w.waiting = append(w.waiting, job)
	if _, parked := w.blocked[job.key]; !parked {
		w.blocked[job.key] = nil
	}
	w.log.Warn().Err(err).Str("key", job.key).Str("job", job.name).Int("attempt", job.attempts).Dur("retry_in", delay).Msg("job failed, retrying")
	return false
}

func (w *AsyncWriter) runDue() {
	if len(w.waiting) == 0 {
		return
	}
	now := w.clock.Now()
	var due []*writeJob
	pending := w.waiting[:0]
	for _, job := range w.waiting {
		if job.notBefore.After(now) {
			pending = append(pending, job)
		} else {
			due = append(due, job)
		}
	}
	w.waiting = pending
	for _, job := range due {
		if w.attempt(job) {
			w.resume(job.key)
		}
	}
}

// resume replays the backlog queued behind a finished parked job.
func (w *AsyncWriter) resume(key string) {
	backlog := w.blocked[key]
	delete(w.blocked, key)
	for i, job := range backlog {
		if !w.attempt(job) {
			w.blocked[key] = append(w.blocked[key], backlog[i+1:]...)
			return
		}
	}
}

func (w *AsyncWriter) nextDue() (time.Time, bool) {
	if len(w.waiting) == 0 {
		return time.Time{}, false
	}
	next := w.waiting[0].notBefore
	for _, job := range w.waiting[1:] {
		if job.notBefore.Before(next) {
			next = job.notBefore
		}
	}
	return next, true
}

func (w *AsyncWriter) backoff(attempts int) time.Duration {
	delay := w.cfg.Backoff
	for i := 1; i < attempts && delay < maxWriterBackoff; i++ {
		delay *= 2
	}
	if delay > maxWriterBackoff {
		delay = maxWriterBackoff
	}
	return delay
}
