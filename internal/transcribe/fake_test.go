package transcribe

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeBackend scripts backend responses. statusFn is called per poll with the
// 1-based poll count for the job.
type fakeBackend struct {
	mu sync.Mutex

	uploadErr  error
	putErr     error
	createErr  error
	combineErr error
	transcript string
	transErr   error
	statusFn   func(n int) (JobStatus, error)

	polls     map[string]int
	calls     []string
	putBodies []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		polls:      make(map[string]int),
		transcript: "hello world",
		statusFn: func(int) (JobStatus, error) {
			return JobStatus{Status: "completed"}, nil
		},
	}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) RequestUpload(ctx context.Context, fileName, contentType string) (UploadTarget, error) {
	b.record("request_upload")
	if b.uploadErr != nil {
		return UploadTarget{}, b.uploadErr
	}
	return UploadTarget{UploadURL: "https://storage.example/put", ObjectKey: "uploads/" + fileName}, nil
}

func (b *fakeBackend) PutObject(ctx context.Context, target UploadTarget, f LocalFile) error {
	b.record("put_object")
	if b.putErr != nil {
		return b.putErr
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	b.mu.Lock()
	b.putBodies = append(b.putBodies, string(data))
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) CreateJob(ctx context.Context, objectKey, fileName string) (string, error) {
	b.record("create_job")
	if b.createErr != nil {
		return "", b.createErr
	}
	return "job-" + fileName, nil
}

func (b *fakeBackend) UploadAndProcess(ctx context.Context, f LocalFile) (string, error) {
	b.record("upload_and_process")
	if b.combineErr != nil {
		return "", b.combineErr
	}
	return "job-" + f.Name, nil
}

func (b *fakeBackend) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	b.mu.Lock()
	b.polls[jobID]++
	n := b.polls[jobID]
	fn := b.statusFn
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	return fn(n)
}

func (b *fakeBackend) Transcript(ctx context.Context, jobID string) (string, error) {
	b.record("transcript")
	return b.transcript, b.transErr
}

func (b *fakeBackend) pollCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls[jobID]
}

func (b *fakeBackend) callList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// immediate fires every timer at once and records requested delays.
type immediate struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *immediate) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// gatedClock fires a timer only when the test sends on tick.
type gatedClock struct {
	tick chan time.Time
}

func newGatedClock() *gatedClock {
	return &gatedClock{tick: make(chan time.Time)}
}

func (c *gatedClock) after(time.Duration) <-chan time.Time {
	return c.tick
}

func m4aFile(name, content string) LocalFile {
	return NewLocalFile(name, int64(len(content)), "audio/m4a", func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content)), nil
	})
}

var errNetwork = errors.New("dial tcp 127.0.0.1:8787: connect: connection refused")

func intPtr(v int) *int { return &v }
