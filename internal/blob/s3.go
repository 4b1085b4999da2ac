package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/resilience"
)

// S3API is the subset of *s3.Client used by S3.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used by S3.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures the S3 store.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // S3-compatible endpoint (MinIO, LocalStack)
	UsePathStyle bool

	// Static credentials; the default chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	Compress bool
	Retry    resilience.RetryConfig
}

// S3 implements Store on an S3 bucket.
type S3 struct {
	api     S3API
	presign Presigner
	cfg     S3Config

	mu      sync.Mutex
	ensured bool
}

// NewS3 builds an S3 client from cfg using the default AWS config chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("blob: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "blob: load aws config")
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3WithClient(client, s3.NewPresignClient(client), cfg), nil
}

// NewS3WithClient wires explicit API implementations.
func NewS3WithClient(api S3API, presign Presigner, cfg S3Config) *S3 {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.LogRetry("s3", "put_object")
	}
	return &S3{api: api, presign: presign, cfg: cfg}
}

// EnsureContainer creates the bucket if it does not exist. Losing a creation
// race to another caller counts as success.
func (s *S3) EnsureContainer(ctx context.Context) error {
	s.mu.Lock()
	done := s.ensured
	s.mu.Unlock()
	if done {
		return nil
	}

	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	switch {
	case err == nil:
	case isNotFound(err):
		if err := s.createBucket(ctx); err != nil {
			return err
		}
	default:
		return eris.Wrapf(err, "blob: head bucket %s", s.cfg.Bucket)
	}

	s.mu.Lock()
	s.ensured = true
	s.mu.Unlock()
	return nil
}

func (s *S3) createBucket(ctx context.Context) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(s.cfg.Bucket)}
	if s.cfg.Region != "" && s.cfg.Region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}

	_, err := s.api.CreateBucket(ctx, in)
	if err == nil {
		zap.L().Info("blob: created bucket", zap.String("bucket", s.cfg.Bucket), zap.String("region", s.cfg.Region))
		return nil
	}

	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return eris.Wrapf(err, "blob: create bucket %s", s.cfg.Bucket)
}

// Put uploads body under key, overwriting any existing object. With Compress
// the body is gzip'd and ".gz" is appended to the returned key.
func (s *S3) Put(ctx context.Context, key string, body []byte) (model.ResolvedKey, error) {
	if err := s.EnsureContainer(ctx); err != nil {
		return "", err
	}

	key = CleanKey(key)
	if key == "" {
		return "", eris.New("blob: empty key")
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		ContentType: aws.String(contentType(key)),
	}
	if s.cfg.Compress && !strings.HasSuffix(key, ".gz") {
		gz, err := gzipBody(body)
		if err != nil {
			return "", err
		}
		body = gz
		key += ".gz"
		in.ContentEncoding = aws.String("gzip")
	}
	in.Key = aws.String(key)
	in.ContentLength = aws.Int64(int64(len(body)))

	err := resilience.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		in.Body = bytes.NewReader(body)
		_, err := s.api.PutObject(ctx, in)
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: put %s", key)
	}

	zap.L().Debug("blob: stored object",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("key", key),
		zap.Int("bytes", len(body)),
	)
	return model.ResolvedKey(key), nil
}

// Exists reports whether key is present. Not-found maps to false, nil.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(CleanKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, eris.Wrapf(err, "blob: head %s", key)
}

// Get downloads key, gunzipping ".gz" objects.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	key = CleanKey(key)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
		}
		return nil, eris.Wrapf(err, "blob: get %s", key)
	}
	defer out.Body.Close() //nolint:errcheck

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	if strings.HasSuffix(key, ".gz") {
		return gunzipBody(b)
	}
	return b, nil
}

// PresignPut returns a URL a client can PUT key to until ttl passes.
func (s *S3) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	key = CleanKey(key)
	if key == "" {
		return "", eris.New("blob: empty key")
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	req, err := s.presign.PresignPutObject(ctx, in, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: presign %s", key)
	}
	return req.URL, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == 404
}

func contentType(key string) string {
	ext := path.Ext(strings.TrimSuffix(key, ".gz"))
	switch ext {
	case ".csv":
		return "text/csv"
	case ".json", ".jsonl":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
