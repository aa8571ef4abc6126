package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Poll defaults.
const (
	DefaultInitialDelay = time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultPollCeiling  = 10 * time.Minute

	// defaultProcessingProgress is used when a status response has no progress.
	defaultProcessingProgress = 50
)

// Messages recorded on poll failures.
const (
	msgStatusFailed        = "Failed to get transcription status"
	msgTranscriptionFailed = "Transcription failed"
)

// PollerConfig controls status polling for a job.
type PollerConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Ceiling      time.Duration
}

// DefaultPollerConfig returns 1s initial delay, 2s interval and a 10 minute ceiling.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		InitialDelay: DefaultInitialDelay,
		Interval:     DefaultPollInterval,
		Ceiling:      DefaultPollCeiling,
	}
}

func (c PollerConfig) withDefaults() PollerConfig {
	d := DefaultPollerConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Ceiling <= 0 {
		c.Ceiling = d.Ceiling
	}
	return c
}

// MaxAttempts is ceil(Ceiling / Interval), the number of status fetches allowed.
func (c PollerConfig) MaxAttempts() int {
	c = c.withDefaults()
	n := int(c.Ceiling / c.Interval)
	if c.Ceiling%c.Interval != 0 {
		n++
	}
	return n
}

// TimeoutMessage is recorded when the ceiling is reached.
func (c PollerConfig) TimeoutMessage() string {
	return fmt.Sprintf("Transcription timed out after %s. Please try again.", humanDuration(c.withDefaults().Ceiling))
}

func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int64(d/time.Second), "second")
	}
	return d.String()
}

// Poller watches one job until it completes, fails, times out or is cancelled.
type Poller struct {
	fileID  string
	jobID   string
	backend Backend
	store   *Store
	cfg     PollerConfig
	after   func(time.Duration) <-chan time.Time
	logger  zerolog.Logger

	attempts atomic.Int64
	done     chan struct{}
}

func newPoller(fileID, jobID string, b Backend, s *Store, cfg PollerConfig, after func(time.Duration) <-chan time.Time, logger zerolog.Logger) *Poller {
	if after == nil {
		after = time.After
	}
	return &Poller{
		fileID:  fileID,
		jobID:   jobID,
		backend: b,
		store:   s,
		cfg:     cfg.withDefaults(),
		after:   after,
		logger:  logger.With().Str("file_id", fileID).Str("job_id", jobID).Logger(),
		done:    make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Attempts returns the number of status fetches issued so far.
func (p *Poller) Attempts() int {
	return int(p.attempts.Load())
}

// Run polls until a terminal condition. Cancelling ctx stops it before the
// next attempt without touching the record.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	maxAttempts := p.cfg.MaxAttempts()
	delay := p.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("poller cancelled")
			return
		case <-p.after(delay):
		}
		if ctx.Err() != nil {
			return
		}
		delay = p.cfg.Interval

		if attempt > maxAttempts {
			p.logger.Warn().Int("attempts", maxAttempts).Dur("ceiling", p.cfg.Ceiling).Msg("polling timed out")
			p.update(fail(KindTimeout, p.cfg.TimeoutMessage()))
			return
		}

		if !p.poll(ctx) {
			return
		}
	}
}

// poll performs one attempt and reports whether polling should continue.
func (p *Poller) poll(ctx context.Context) bool {
	p.attempts.Add(1)
	st, err := p.backend.JobStatus(ctx, p.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error().Err(err).Msg("status fetch failed")
		p.update(fail(KindTransport, msgStatusFailed))
		return false
	}

	switch st.Status {
	case string(StatusCompleted):
		text, err := p.backend.Transcript(ctx, p.jobID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.logger.Error().Err(err).Msg("transcript fetch failed")
			p.update(fail(KindTransport, msgStatusFailed))
			return false
		}
		p.logger.Info().Int("chars", len(text)).Msg("transcription completed")
		p.update(complete(text))
		return false

	case string(StatusError):
		msg := msgTranscriptionFailed
		if st.Error != nil && st.Error.Message != "" {
			msg = st.Error.Message
		}
		p.logger.Warn().Str("reason", msg).Msg("job failed")
		p.update(fail(KindBackend, msg))
		return false
	}

	progress := defaultProcessingProgress
	if st.Progress != nil && *st.Progress > 0 {
		progress = *st.Progress
	}
	return p.update(advance(StatusProcessing, progress))
}

// update applies fn to the poller's record and reports whether the record is
// still tracked.
func (p *Poller) update(fn func(UploadedFile) UploadedFile) bool {
	_, err := p.store.Update(p.fileID, fn)
	switch {
	case errors.Is(err, ErrNotTracked):
		p.logger.Debug().Msg("file removed, poller stopping")
		return false
	case err != nil:
		p.logger.Warn().Err(err).Msg("record update rejected")
		return false
	}
	return true
}
