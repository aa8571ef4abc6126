package transcribe

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotTracked is returned when an update targets an id that is not in the store.
	ErrNotTracked = errors.New("transcribe: file not tracked")
	// ErrInvalidTransition is returned when an update would break the lifecycle.
	ErrInvalidTransition = errors.New("transcribe: invalid status transition")
)

// Status is the lifecycle state of a submitted file.
type Status string

const (
	StatusPreparing   Status = "preparing"
	StatusUploading   Status = "uploading"
	StatusCreatingJob Status = "creating_job"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// IsTerminal reports whether no further pipeline step follows s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// transitions lists the allowed successors of each status. Uploading may go
// straight to processing when upload and job creation are a single call.
var transitions = map[Status][]Status{
	StatusPreparing:   {StatusUploading, StatusError},
	StatusUploading:   {StatusCreatingJob, StatusProcessing, StatusError},
	StatusCreatingJob: {StatusProcessing, StatusError},
	StatusProcessing:  {StatusCompleted, StatusError},
	StatusError:       {StatusUploading},
}

func isValidTransition(from, to Status) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UploadedFile is the tracked record of one submission.
type UploadedFile struct {
	ID            string    `json:"id"`
	File          LocalFile `json:"file"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	JobID         string    `json:"jobId,omitempty"`
	Transcription string    `json:"transcription,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
}

// Change is delivered to store observers after every mutation.
type Change struct {
	File    UploadedFile
	Removed bool
}

// ChangeFunc observes store changes. It must not mutate the store.
type ChangeFunc func(Change)

// Store is a keyed collection of UploadedFile records. Records are only ever
// replaced whole, by id, through Update.
type Store struct {
	mu      sync.RWMutex
	records map[string]UploadedFile
	order   []string

	// notifyMu keeps observer callbacks in mutation order.
	notifyMu  sync.Mutex
	observers []ChangeFunc
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]UploadedFile)}
}

// Observe registers fn to be called after each change.
func (s *Store) Observe(fn ChangeFunc) {
	s.notifyMu.Lock()
	s.observers = append(s.observers, fn)
	s.notifyMu.Unlock()
}

// Add tracks a new record in the preparing state.
func (s *Store) Add(id string, f LocalFile) (UploadedFile, error) {
	rec := UploadedFile{ID: id, File: f, Status: StatusPreparing}

	s.mu.Lock()
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return UploadedFile{}, fmt.Errorf("transcribe: duplicate id %q", id)
	}
	s.records[id] = rec
	s.order = append(s.order, id)
	s.notify(Change{File: rec})
	return rec, nil
}

// Get returns the record for id.
func (s *Store) Get(id string) (UploadedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// List returns all records in submission order.
func (s *Store) List() []UploadedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UploadedFile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Update replaces the record for id with fn's result. The id and file are
// fixed; the status change must be a valid transition; progress is clamped to
// 0..100 and may not decrease unless the record enters or leaves error.
func (s *Store) Update(id string, fn func(UploadedFile) UploadedFile) (UploadedFile, error) {
	s.mu.Lock()
	old, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return UploadedFile{}, ErrNotTracked
	}

	next := fn(old)
	next.ID = old.ID
	next.File = old.File
	if !isValidTransition(old.Status, next.Status) {
		s.mu.Unlock()
		return old, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old.Status, next.Status)
	}
	next.Progress = clampProgress(old, next)

	s.records[id] = next
	s.notify(Change{File: next})
	return next, nil
}

// Remove stops tracking id. It reports whether a record was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.notify(Change{File: rec, Removed: true})
	return true
}

// notify must be called with s.mu held; it releases it.
func (s *Store) notify(c Change) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.observers {
		fn(c)
	}
}

func clampProgress(old, next UploadedFile) int {
	p := next.Progress
	switch next.Status {
	case StatusCompleted:
		return 100
	case StatusError:
		return 0
	}
	if old.Status != StatusError && p < old.Progress {
		p = old.Progress
	}
	if p < 0 {
		p = 0
	}
	if p > 99 {
		p = 99
	}
	return p
}

// advance moves a record to status with at least the given progress. A retried
// file that re-runs the preparing step stays in uploading.
func advance(status Status, progress int) func(UploadedFile) UploadedFile {
	return func(f UploadedFile) UploadedFile {
		if !(f.Status == StatusUploading && status == StatusPreparing) {
			f.Status = status
		}
		f.Progress = progress
		return f
	}
}

func startProcessing(jobID string, progress int) func(UploadedFile) UploadedFile {
	return func(f UploadedFile) UploadedFile {
		f.Status = StatusProcessing
		f.Progress = progress
		f.JobID = jobID
		return f
	}
}

func fail(kind ErrorKind, message string) func(UploadedFile) UploadedFile {
	return func(f UploadedFile) UploadedFile {
		f.Status = StatusError
		f.Error = message
		f.ErrorKind = kind
		f.Transcription = ""
		return f
	}
}

func complete(text string) func(UploadedFile) UploadedFile {
	return func(f UploadedFile) UploadedFile {
		f.Status = StatusCompleted
		f.Transcription = text
		f.Error = ""
		f.ErrorKind = ""
		return f
	}
}

func resetForRetry(f UploadedFile) UploadedFile {
	return UploadedFile{ID: f.ID, File: f.File, Status: StatusUploading}
}
