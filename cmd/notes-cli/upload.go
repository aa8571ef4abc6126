package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/productivity-tools/m4a-notes/internal/httpclient"
	"github.com/productivity-tools/m4a-notes/internal/transcribe"
)

type uploadOptions struct {
	outDir   string
	pipeline string
	retries  int
}

func newUploadCmd() *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file.m4a>...",
		Short: "Upload recordings and wait for their transcripts",
		Long: `Upload one or more M4A recordings. Every file is uploaded and polled
concurrently. Transcripts are printed to stdout, or written next to each
other in --out as <name>.txt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "directory for transcript files")
	cmd.Flags().StringVar(&opts.pipeline, "pipeline", "", "override the configured pipeline (separate, combined)")
	cmd.Flags().IntVar(&opts.retries, "retries", 1, "retries for uploads that fail on the network")
	return cmd
}

func runUpload(cmd *cobra.Command, paths []string, opts uploadOptions) error {
	ctx := cmd.Context()
	cfg, err := loadReadyConfig()
	if err != nil {
		return err
	}
	if opts.pipeline != "" {
		cfg.Pipeline = opts.pipeline
	}
	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	logger := newLogger()

	apiClient, err := httpclient.New(httpclient.Options{Proxy: cfg.Proxy, UserAgent: userAgent()})
	if err != nil {
		return err
	}
	uploadClient, err := httpclient.New(httpclient.Options{Timeout: -1, Proxy: cfg.Proxy, UserAgent: userAgent()})
	if err != nil {
		return err
	}

	backend := transcribe.NewHTTPBackend(cfg.APIBase(), cfg.Token, apiClient, uploadClient)
	pipeline, err := transcribe.NewPipeline(cfg.PipelineName(), backend)
	if err != nil {
		return err
	}

	interval, ceiling := cfg.PollTiming()
	orch := transcribe.NewOrchestrator(transcribe.Options{
		Backend:     backend,
		Pipeline:    pipeline,
		Poll:        transcribe.PollerConfig{Interval: interval, Ceiling: ceiling},
		MaxFileSize: cfg.MaxFileSize(),
		Logger:      logger,
	})
	defer orch.Wait()

	progress := newProgressPrinter(os.Stderr)
	orch.Store().Observe(progress.observe)

	// Failures are reported per file; one failure does not cancel the others.
	var g errgroup.Group
	var failed atomic.Int32
	for _, path := range paths {
		g.Go(func() error {
			text, err := transcribeOne(cmd, orch, path, opts.retries)
			if err != nil {
				failed.Add(1)
				fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
				return err
			}
			return emitTranscript(cmd.OutOrStdout(), opts.outDir, path, text, len(paths) > 1)
		})
	}
	err = g.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(paths))
	}
	return err
}

// transcribeOne submits path and blocks until its record is terminal,
// retrying network failures up to retries times.
func transcribeOne(cmd *cobra.Command, orch *transcribe.Orchestrator, path string, retries int) (string, error) {
	ctx := cmd.Context()
	f, err := transcribe.OpenLocalFile(path)
	if err != nil {
		return "", err
	}
	id, err := orch.Submit(ctx, f)
	if err != nil {
		return "", err
	}

	for attempt := 0; ; attempt++ {
		if done := orch.Done(id); done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		rec, ok := orch.Store().Get(id)
		if !ok {
			return "", transcribe.ErrNotTracked
		}
		switch rec.Status {
		case transcribe.StatusCompleted:
			return rec.Transcription, nil
		case transcribe.StatusError:
			if rec.ErrorKind == transcribe.KindTransport && attempt < retries {
				if err := orch.Retry(ctx, id); err != nil {
					return "", err
				}
				continue
			}
			return "", errors.New(rec.Error)
		default:
			// the run ended without a terminal state, which only happens on cancellation
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("stopped while %s", rec.Status)
		}
	}
}

var stdoutMu sync.Mutex

func emitTranscript(stdout io.Writer, outDir, path, text string, withHeader bool) error {
	if outDir != "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".txt"
		dest := filepath.Join(outDir, name)
		if err := os.WriteFile(dest, []byte(text+"\n"), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s: transcript saved to %s\n", filepath.Base(path), dest)
		return nil
	}

	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	if withHeader {
		fmt.Fprintf(stdout, "==> %s <==\n", filepath.Base(path))
	}
	_, err := fmt.Fprintln(stdout, text)
	return err
}

// progressPrinter writes a line whenever a file changes status or moves
// at least ten points of progress.
type progressPrinter struct {
	w    io.Writer
	mu   sync.Mutex
	last map[string]transcribe.UploadedFile
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: make(map[string]transcribe.UploadedFile)}
}

func (p *progressPrinter) observe(c transcribe.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Removed {
		delete(p.last, c.File.ID)
		return
	}
	prev, seen := p.last[c.File.ID]
	p.last[c.File.ID] = c.File
	if seen && prev.Status == c.File.Status && c.File.Progress-prev.Progress < 10 {
		return
	}

	line := fmt.Sprintf("%-28s %-12s %3d%%", truncate(c.File.File.Name, 28), c.File.Status, c.File.Progress)
	if c.File.Status == transcribe.StatusPreparing {
		line += "  " + transcribe.FormatFileSize(c.File.File.Size)
	}
	if c.File.Error != "" {
		line += "  " + c.File.Error
	}
	fmt.Fprintln(p.w, line)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
