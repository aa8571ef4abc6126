// Package transcribe drives audio files through upload, job creation and
// status polling until a transcript is available.
package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotRetryable is returned by Retry for a file that is not in error.
var ErrNotRetryable = errors.New("transcribe: only failed files can be retried")

// Options configures an Orchestrator.
type Options struct {
	Backend  Backend
	Pipeline Pipeline // defaults to the separate pipeline over Backend
	Poll     PollerConfig
	// MaxFileSize in bytes; zero means DefaultMaxFileSize.
	MaxFileSize int64
	Logger      zerolog.Logger
	// After replaces time.After in pollers, for tests.
	After func(time.Duration) <-chan time.Time
}

// run is the in-flight work for one file id.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	poller *Poller
}

// Orchestrator owns the lifecycle of submitted files. Each submission runs in
// its own goroutine with no concurrency cap.
type Orchestrator struct {
	store    *Store
	backend  Backend
	pipeline Pipeline
	poll     PollerConfig
	maxSize  int64
	after    func(time.Duration) <-chan time.Time
	logger   zerolog.Logger
	newID    func() string

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with an empty store.
func NewOrchestrator(opts Options) *Orchestrator {
	p := opts.Pipeline
	if p == nil {
		p = NewSeparatePipeline(opts.Backend)
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Orchestrator{
		store:    NewStore(),
		backend:  opts.Backend,
		pipeline: p,
		poll:     opts.Poll.withDefaults(),
		maxSize:  maxSize,
		after:    opts.After,
		logger:   opts.Logger.With().Str("component", "orchestrator").Str("pipeline", p.Name()).Logger(),
		newID:    uuid.NewString,
		runs:     make(map[string]*run),
	}
}

// Store returns the orchestrator's record store.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Submit validates f, tracks it and starts its pipeline. A rejected file is
// never tracked and the returned error is a validation *Error.
func (o *Orchestrator) Submit(ctx context.Context, f LocalFile) (string, error) {
	if err := ValidateFile(f, o.maxSize); err != nil {
		return "", err
	}

	id := o.newID()
	if _, err := o.store.Add(id, f); err != nil {
		return "", err
	}
	o.logger.Info().Str("file_id", id).Str("file", f.Name).Int64("size", f.Size).Msg("file submitted")
	o.start(ctx, id, f)
	return id, nil
}

// Retry re-enters a failed file at uploading with its error, progress, job id
// and transcription cleared.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	rec, ok := o.store.Get(id)
	if !ok {
		return ErrNotTracked
	}
	if rec.Status != StatusError {
		return ErrNotRetryable
	}

	o.cancelRun(id)
	if _, err := o.store.Update(id, resetForRetry); err != nil {
		return err
	}
	o.logger.Info().Str("file_id", id).Msg("retrying file")
	o.start(ctx, id, rec.File)
	return nil
}

// Remove stops tracking id and cancels its upload or poller.
func (o *Orchestrator) Remove(id string) bool {
	o.cancelRun(id)
	return o.store.Remove(id)
}

// Wait blocks until every started run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Done returns a channel closed when the current run for id finishes, or
// nil when id has no run.
func (o *Orchestrator) Done(id string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runs[id]; ok {
		return r.done
	}
	return nil
}

// Poller returns the active poller for id once its job has been created.
func (o *Orchestrator) Poller(id string) (*Poller, bool) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.poller, r.poller != nil
}

func (o *Orchestrator) cancelRun(id string) {
	o.mu.Lock()
	r, ok := o.runs[id]
	delete(o.runs, id)
	o.mu.Unlock()
	if ok {
		r.cancel()
	}
}

func (o *Orchestrator) start(ctx context.Context, id string, f LocalFile) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.runs[id] = r
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		defer cancel()
		defer o.finish(id, r)
		o.execute(runCtx, id, f, r)
	}()
}

// finish forgets r unless a newer run replaced it.
func (o *Orchestrator) finish(id string, r *run) {
	o.mu.Lock()
	if o.runs[id] == r {
		delete(o.runs, id)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) execute(ctx context.Context, id string, f LocalFile, r *run) {
	log := o.logger.With().Str("file_id", id).Logger()

	step := func(status Status, progress int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := o.store.Update(id, advance(status, progress))
		return err
	}

	sub, err := o.pipeline.Run(ctx, f, step)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrNotTracked) {
			log.Debug().Err(err).Msg("upload abandoned")
			return
		}
		msg := userMessage(err, o.pipeline.NetworkErrorMessage())
		log.Error().Err(err).Str("message", msg).Msg("upload failed")
		o.store.Update(id, fail(errorKind(err), msg))
		return
	}

	if _, err := o.store.Update(id, startProcessing(sub.JobID, sub.Progress)); err != nil {
		log.Debug().Err(err).Msg("file removed before polling")
		return
	}
	log.Info().Str("job_id", sub.JobID).Msg("job created")

	p := newPoller(id, sub.JobID, o.backend, o.store, o.poll, o.after, o.logger)
	r.mu.Lock()
	r.poller = p
	r.mu.Unlock()
	p.Run(ctx)
}
