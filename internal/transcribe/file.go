package transcribe

import (
	"fmt"
	"io"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileSize is the transcription backend's input ceiling.
const DefaultMaxFileSize int64 = 25 << 20

// DefaultContentType is sent when a file declares no media type.
const DefaultContentType = "audio/m4a"

var acceptedMediaTypes = map[string]bool{
	"audio/m4a":   true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
}

// LocalFile is a file submitted for transcription. It is never mutated after submission.
type LocalFile struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MediaType string `json:"mediaType,omitempty"`
	Path      string `json:"path,omitempty"`

	open func() (io.ReadCloser, error)
}

// NewLocalFile describes a file whose bytes come from open.
func NewLocalFile(name string, size int64, mediaType string, open func() (io.ReadCloser, error)) LocalFile {
	return LocalFile{Name: name, Size: size, MediaType: mediaType, open: open}
}

// OpenLocalFile stats a file on disk and infers its media type from the
// extension, falling back to content sniffing.
func OpenLocalFile(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LocalFile{}, fmt.Errorf("%s is a directory", path)
	}

	return LocalFile{
		Name:      filepath.Base(path),
		Size:      info.Size(),
		MediaType: detectMediaType(path),
		Path:      path,
		open:      func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

func detectMediaType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".m4a" {
		return DefaultContentType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	if m, err := mimetype.DetectFile(path); err == nil {
		if mt, _, err := mime.ParseMediaType(m.String()); err == nil {
			return mt
		}
	}
	return ""
}

// Open returns a reader for the file's bytes.
func (f LocalFile) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %q has no content source", f.Name)
	}
	return f.open()
}

// ContentType returns the declared media type or the default.
func (f LocalFile) ContentType() string {
	if f.MediaType != "" {
		return f.MediaType
	}
	return DefaultContentType
}

// ValidateFile rejects files that are not M4A audio or exceed maxSize bytes.
// A non-positive maxSize means DefaultMaxFileSize.
func ValidateFile(f LocalFile, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if !acceptedMediaTypes[strings.ToLower(f.MediaType)] && !strings.HasSuffix(strings.ToLower(f.Name), ".m4a") {
		return validationError(ReasonUnsupportedType, "Please upload only M4A audio files.")
	}
	if f.Size > maxSize {
		msg := fmt.Sprintf("File size must be less than %s.", FormatFileSize(maxSize))
		if maxSize == DefaultMaxFileSize {
			msg = "File size must be less than 25MB (OpenAI Whisper API limit)."
		}
		return validationError(ReasonFileTooLarge, msg)
	}
	return nil
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders a byte count with up to two decimals, e.g. "1.5 MB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizeUnits[i]
}
