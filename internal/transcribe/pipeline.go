package transcribe

import (
	"context"
	"fmt"
)

// StepFunc records that a pipeline reached status with the given progress.
// It returns an error when the record can no longer be updated, which aborts the run.
type StepFunc func(status Status, progress int) error

// Submission is the result of a pipeline that created a backend job.
type Submission struct {
	JobID string
	// Progress to record on entering processing.
	Progress int
}

// Pipeline moves a validated file from preparing to an accepted backend job.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, f LocalFile, step StepFunc) (Submission, error)
	// NetworkErrorMessage is shown when a step fails without a response.
	NetworkErrorMessage() string
}

// SeparatePipeline requests an upload URL, writes the bytes to storage and
// then creates the job, as three calls.
type SeparatePipeline struct {
	backend Backend
}

// NewSeparatePipeline creates the three-call pipeline.
func NewSeparatePipeline(b Backend) *SeparatePipeline {
	return &SeparatePipeline{backend: b}
}

func (p *SeparatePipeline) Name() string { return "separate" }

func (p *SeparatePipeline) NetworkErrorMessage() string { return "Network error. Please try again." }

func (p *SeparatePipeline) Run(ctx context.Context, f LocalFile, step StepFunc) (Submission, error) {
	if err := step(StatusPreparing, 5); err != nil {
		return Submission{}, err
	}
	target, err := p.backend.RequestUpload(ctx, f.Name, f.ContentType())
	if err != nil {
		return Submission{}, err
	}

	if err := step(StatusUploading, 20); err != nil {
		return Submission{}, err
	}
	if err := p.backend.PutObject(ctx, target, f); err != nil {
		return Submission{}, err
	}

	if err := step(StatusCreatingJob, 40); err != nil {
		return Submission{}, err
	}
	jobID, err := p.backend.CreateJob(ctx, target.ObjectKey, f.Name)
	if err != nil {
		return Submission{}, err
	}

	return Submission{JobID: jobID, Progress: 50}, nil
}

// CombinedPipeline uploads the file and creates the job in one multipart call.
type CombinedPipeline struct {
	backend Backend
}

// NewCombinedPipeline creates the single-call pipeline.
func NewCombinedPipeline(b Backend) *CombinedPipeline {
	return &CombinedPipeline{backend: b}
}

func (p *CombinedPipeline) Name() string { return "combined" }

func (p *CombinedPipeline) NetworkErrorMessage() string {
	return "Failed to upload file. Please try again."
}

func (p *CombinedPipeline) Run(ctx context.Context, f LocalFile, step StepFunc) (Submission, error) {
	if err := step(StatusUploading, 10); err != nil {
		return Submission{}, err
	}
	jobID, err := p.backend.UploadAndProcess(ctx, f)
	if err != nil {
		return Submission{}, err
	}
	return Submission{JobID: jobID, Progress: 20}, nil
}

// NewPipeline returns the pipeline registered under name.
func NewPipeline(name string, b Backend) (Pipeline, error) {
	switch name {
	case "", "separate":
		return NewSeparatePipeline(b), nil
	case "combined":
		return NewCombinedPipeline(b), nil
	}
	return nil, fmt.Errorf("unknown pipeline %q", name)
}
