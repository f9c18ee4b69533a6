// Package s3util stages browser uploads in S3 so that media larger than the
// Lambda request payload can still be diagnosed. The browser PUTs the file to
// a presigned URL and then names the returned key in the diagnose request.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/capture"
)

// EnvBucket names the bucket used for staged uploads.
const EnvBucket = "MEDIA_BUCKET_NAME"

// PresignExpiry is how long an upload URL stays valid.
const PresignExpiry = 15 * time.Minute

const keyPrefix = "uploads/"

var (
	// ErrInvalidKey is returned for keys this package did not issue.
	ErrInvalidKey = errors.New("invalid upload key")
	// ErrNotFound is returned when the upload has not arrived (or was consumed).
	ErrNotFound = errors.New("upload not found")
)

// safeFilenameRegex allows alphanumeric, dots, hyphens, underscores, spaces, and parentheses.
var safeFilenameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner is the subset of the S3 presign client used here.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Upload tells the browser where and how to PUT a file.
type Upload struct {
	URL       string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Store issues upload URLs and reads staged uploads back.
type Store struct {
	client    ObjectAPI
	presigner Presigner
	bucket    string
	now       func() time.Time
}

// NewStore returns a Store over bucket.
func NewStore(client ObjectAPI, presigner Presigner, bucket string) *Store {
	return &Store{client: client, presigner: presigner, bucket: bucket, now: time.Now}
}

// NewFromEnv builds a Store from the default AWS config and MEDIA_BUCKET_NAME.
// It returns nil, nil when no bucket is configured.
func NewFromEnv(ctx context.Context) (*Store, error) {
	bucket := os.Getenv(EnvBucket)
	if bucket == "" {
		return nil, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return NewStore(client, s3.NewPresignClient(client), bucket), nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// PresignUpload returns a presigned PUT for filename. The content type is
// part of the signature, so the browser must send the same Content-Type.
func (s *Store) PresignUpload(ctx context.Context, filename, contentType string) (Upload, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if !safeFilenameRegex.MatchString(filename) {
		return Upload{}, fmt.Errorf("filename contains invalid characters; only alphanumeric, dots, hyphens, underscores, spaces, and parentheses allowed")
	}
	contentType = capture.NormalizeMIMEType(contentType)
	if !capture.IsAllowedMIMEType(contentType) {
		return Upload{}, fmt.Errorf("%w: %s", capture.ErrUnsupportedType, contentType)
	}

	key := keyPrefix + uuid.NewString() + "/" + filename
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return Upload{}, fmt.Errorf("failed to presign upload: %w", err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) > 0 && !strings.EqualFold(name, "host") {
			headers[name] = values[0]
		}
	}
	log.Debug().Str("key", key).Str("content_type", contentType).Msg("Upload URL issued")
	return Upload{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		Key:       key,
		ExpiresAt: s.now().Add(PresignExpiry),
	}, nil
}

// Open streams a staged upload as a capture.File. The caller closes the
// returned Closer.
func (s *Store) Open(ctx context.Context, key string) (capture.File, io.Closer, error) {
	if err := ValidateKey(key); err != nil {
		return capture.File{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return capture.File{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return capture.File{}, nil, fmt.Errorf("S3 GetObject: %w", err)
	}
	return capture.File{
		Name:    path.Base(key),
		Type:    aws.ToString(out.ContentType),
		Size:    aws.ToInt64(out.ContentLength),
		Content: out.Body,
	}, out.Body, nil
}

// Delete removes a staged upload. Uploads are single use.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("S3 DeleteObject: %w", err)
	}
	return nil
}

// ValidateKey accepts only keys of the form uploads/<uuid>/<filename>.
func ValidateKey(key string) error {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return ErrInvalidKey
	}
	id, name, ok := strings.Cut(rest, "/")
	if !ok || !safeFilenameRegex.MatchString(name) {
		return ErrInvalidKey
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return ErrInvalidKey
	}
	return nil
}
