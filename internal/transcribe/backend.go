package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UploadTarget is a pre-authorized storage location for one file.
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	ObjectKey string `json:"objectKey"`
}

// JobError is the structured failure a backend attaches to a failed job.
type JobError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JobStatus is one poll response.
type JobStatus struct {
	Status   string    `json:"status"`
	Progress *int      `json:"progress,omitempty"`
	Error    *JobError `json:"error,omitempty"`
}

// Backend is the job-processing service as seen by the client. It exists as
// an interface so pipelines and pollers can be tested against fakes.
type Backend interface {
	RequestUpload(ctx context.Context, fileName, contentType string) (UploadTarget, error)
	PutObject(ctx context.Context, target UploadTarget, f LocalFile) error
	CreateJob(ctx context.Context, objectKey, fileName string) (string, error)
	UploadAndProcess(ctx context.Context, f LocalFile) (string, error)
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
	Transcript(ctx context.Context, jobID string) (string, error)
}

// JobSource tags jobs created by this client.
const JobSource = "cli"

// HTTPBackend talks to the notes gateway's /api routes.
type HTTPBackend struct {
	baseURL string
	token   string
	// api carries JSON calls; upload carries file bytes and has no overall timeout.
	api    *http.Client
	upload *http.Client
}

// NewHTTPBackend creates a backend rooted at baseURL (e.g. https://host/api).
// Nil clients get defaults.
func NewHTTPBackend(baseURL, token string, api, upload *http.Client) *HTTPBackend {
	if api == nil {
		api = &http.Client{Timeout: 30 * time.Second}
	}
	if upload == nil {
		upload = &http.Client{}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		api:     api,
		upload:  upload,
	}
}

type uploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type jobRequest struct {
	ObjectKey string `json:"objectKey"`
	FileName  string `json:"fileName"`
	Source    string `json:"source"`
}

type jobResponse struct {
	JobID string `json:"jobId"`
}

// RequestUpload asks for a pre-authorized upload URL.
func (b *HTTPBackend) RequestUpload(ctx context.Context, fileName, contentType string) (UploadTarget, error) {
	var target UploadTarget
	err := b.postJSON(ctx, "request_upload", "/uploads", uploadRequest{FileName: fileName, ContentType: contentType}, &target, "Failed to get upload URL")
	if err != nil {
		return UploadTarget{}, err
	}
	if target.UploadURL == "" || target.ObjectKey == "" {
		return UploadTarget{}, transportError("request_upload", "Failed to get upload URL", 0, fmt.Errorf("incomplete upload target"))
	}
	return target, nil
}

// PutObject writes the file's bytes to the pre-authorized URL. No gateway
// credentials are sent to storage.
func (b *HTTPBackend) PutObject(ctx context.Context, target UploadTarget, f LocalFile) error {
	const op, msg = "put_object", "Failed to upload file to storage"

	body, err := f.Open()
	if err != nil {
		return transportError(op, msg, 0, err)
	}
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, body)
	if err != nil {
		return transportError(op, msg, 0, err)
	}
	req.ContentLength = f.Size
	req.Header.Set("Content-Type", f.ContentType())

	resp, err := b.upload.Do(req)
	if err != nil {
		return transportError(op, "", 0, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transportError(op, msg, resp.StatusCode, fmt.Errorf("storage returned %d", resp.StatusCode))
	}
	return nil
}

// CreateJob starts transcription of an uploaded object.
func (b *HTTPBackend) CreateJob(ctx context.Context, objectKey, fileName string) (string, error) {
	var out jobResponse
	err := b.postJSON(ctx, "create_job", "/jobs", jobRequest{ObjectKey: objectKey, FileName: fileName, Source: JobSource}, &out, "Failed to create transcription job")
	if err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", transportError("create_job", "Failed to create transcription job", 0, fmt.Errorf("missing jobId"))
	}
	return out.JobID, nil
}

// UploadAndProcess streams the file as multipart field "audio" and starts the
// job in the same call.
func (b *HTTPBackend) UploadAndProcess(ctx context.Context, f LocalFile) (string, error) {
	const op, msg = "upload_and_process", "Failed to upload and process file"

	src, err := f.Open()
	if err != nil {
		return "", transportError(op, msg, 0, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer src.Close()
		part, err := mw.CreatePart(audioPartHeader(f))
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/upload-and-process", pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", transportError(op, msg, 0, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	b.authorize(req)

	var out jobResponse
	if err := b.do(b.upload, req, op, msg, &out); err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	if out.JobID == "" {
		return "", transportError(op, msg, 0, fmt.Errorf("missing jobId"))
	}
	return out.JobID, nil
}

func audioPartHeader(f LocalFile) map[string][]string {
	name := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(f.Name)
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="audio"; filename="%s"`, name)},
		"Content-Type":        {f.ContentType()},
	}
}

// JobStatus fetches the current state of a job.
func (b *HTTPBackend) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	const op, msg = "poll", "Failed to get job status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return JobStatus{}, transportError(op, msg, 0, err)
	}
	b.authorize(req)

	var st JobStatus
	if err := b.do(b.api, req, op, msg, &st); err != nil {
		return JobStatus{}, err
	}
	return st, nil
}

// Transcript downloads the finished transcript as plain text.
func (b *HTTPBackend) Transcript(ctx context.Context, jobID string) (string, error) {
	const op, msg = "transcript", "Failed to download transcript"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/transcripts/"+url.PathEscape(jobID), nil)
	if err != nil {
		return "", transportError(op, msg, 0, err)
	}
	b.authorize(req)

	resp, err := b.api.Do(req)
	if err != nil {
		return "", transportError(op, "", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(op, msg, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", transportError(op, errorMessage(body, msg), resp.StatusCode, fmt.Errorf("server returned %d", resp.StatusCode))
	}
	return string(body), nil
}

func (b *HTTPBackend) postJSON(ctx context.Context, op, path string, payload, result any, fallback string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return transportError(op, fallback, 0, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return transportError(op, fallback, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)
	return b.do(b.api, req, op, fallback, result)
}

func (b *HTTPBackend) authorize(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

// do executes req and decodes a JSON body into result. A request that never
// got a response yields an error with no message so callers can substitute
// their own network wording.
func (b *HTTPBackend) do(client *http.Client, req *http.Request, op, fallback string, result any) error {
	resp, err := client.Do(req)
	if err != nil {
		return transportError(op, "", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transportError(op, fallback, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transportError(op, errorMessage(body, fallback), resp.StatusCode,
			fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return transportError(op, fallback, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorMessage extracts {"error": "..."} or {"error": {"message": "..."}}.
func errorMessage(body []byte, fallback string) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil && s != "" {
		return s
	}
	var je JobError
	if err := json.Unmarshal(env.Error, &je); err == nil && je.Message != "" {
		return je.Message
	}
	return fallback
}
