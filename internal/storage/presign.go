// Package storage issues pre-authorized upload URLs for S3-compatible object
// storage (AWS S3, Cloudflare R2, MinIO).
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/productivity-tools/m4a-notes/internal/config"
)

// DefaultPresignTTL is used when the configuration sets none.
const DefaultPresignTTL = 15 * time.Minute

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("storage: bucket not configured")

// Upload is a pre-authorized write location.
type Upload struct {
	UploadURL string    `json:"uploadUrl"`
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Presigner signs PUT requests for objects in one bucket.
type Presigner struct {
	client *s3.PresignClient
	bucket string
	prefix string
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

// NewPresigner builds a presigner from cfg. Static credentials are used when
// both key id and secret are set, otherwise the default AWS chain applies.
func NewPresigner(ctx context.Context, cfg config.StorageConfig) (*Presigner, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint, err := normalizeEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &Presigner{
		client: s3.NewPresignClient(s3.NewFromConfig(awsCfg, clientOpts...)),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.KeyPrefix, "/"),
		ttl:    ttl,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// PresignUpload returns a URL that accepts a single PUT of fileName for userID.
// The signed request pins the content type.
func (p *Presigner) PresignUpload(ctx context.Context, userID, fileName, contentType string) (Upload, error) {
	if userID == "" {
		return Upload{}, errors.New("storage: user id required")
	}
	key := ObjectKey(p.prefix, userID, p.newID(), fileName)

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	issued := p.now()
	req, err := p.client.PresignPutObject(ctx, input, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return Upload{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return Upload{
		UploadURL: req.URL,
		ObjectKey: key,
		ExpiresAt: issued.Add(p.ttl).UTC(),
	}, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds "<prefix>/uploads/<user>/<id>/<name>" with each
// user-controlled segment reduced to a safe character set.
func ObjectKey(prefix, userID, id, fileName string) string {
	name := sanitizeSegment(path.Base(strings.ReplaceAll(fileName, `\`, "/")))
	if name == "" || name == "." {
		name = "audio.m4a"
	}
	parts := []string{"uploads", sanitizeSegment(userID), id, name}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func sanitizeSegment(s string) string {
	s = unsafeKeyChars.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "_")
	if len(s) > 128 {
		s = s[len(s)-128:]
	}
	return s
}

func normalizeEndpoint(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid storage endpoint %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
