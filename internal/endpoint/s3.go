package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"syncapp/internal/config"
	"syncapp/internal/core"
)

// S3 adapts an S3 bucket (or a prefix within one). The backend-native
// identity is the object key.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	base     *url.URL
	bucket   string
	prefix   string // empty or ends with "/"
}

// NewS3 creates an endpoint for s3://bucket/prefix. An empty config falls
// back to the ambient AWS environment; a custom endpoint (minio and friends)
// switches to path-style addressing.
func NewS3(ctx context.Context, baseURL *url.URL, cfg config.S3Config) (*S3, error) {
	if baseURL.Scheme != "s3" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: expected s3://bucket/..., got %s", core.ErrInvalidURL, baseURL)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3WithClient(client, baseURL), nil
}

// newS3WithClient wires an endpoint over an existing client, for tests.
func newS3WithClient(client *s3.Client, baseURL *url.URL) *S3 {
	prefix := strings.TrimPrefix(baseURL.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	u := *baseURL
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		base:     &u,
		bucket:   baseURL.Host,
		prefix:   prefix,
	}
}

func (e *S3) ServiceType() core.ServiceType { return core.ServiceS3 }
func (e *S3) Session() string               { return e.bucket }
func (e *S3) BaseURL() *url.URL             { return e.base }

func (e *S3) List(ctx context.Context, fn func(core.Entry) error) error {
	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(e.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classifyS3(fmt.Errorf("listing s3://%s/%s: %w", e.bucket, e.prefix, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, e.prefix)
			if rel == "" {
				continue
			}
			entry := core.Entry{
				Ident:   key,
				RelPath: rel,
				Size:    aws.ToInt64(obj.Size),
				IsDir:   strings.HasSuffix(key, "/"),
			}
			if obj.LastModified != nil {
				entry.MTime = obj.LastModified.Unix()
			}
			// A plain ETag is the content MD5; multipart uploads get a
			// composite tag with a dash, which is not usable as a digest.
			etag := strings.Trim(aws.ToString(obj.ETag), `"`)
			if etag != "" && !strings.Contains(etag, "-") {
				entry.MD5Sum = etag
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *S3) Stat(ctx context.Context, ident string) (int64, int64, error) {
	out, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(ident),
	})
	if err != nil {
		return 0, 0, classifyS3(fmt.Errorf("head s3://%s/%s: %w", e.bucket, ident, err))
	}
	var mtime int64
	if out.LastModified != nil {
		mtime = out.LastModified.Unix()
	}
	return aws.ToInt64(out.ContentLength), mtime, nil
}

func (e *S3) Read(ctx context.Context, ident string) (io.ReadCloser, error) {
	out, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(ident),
	})
	if err != nil {
		return nil, classifyS3(fmt.Errorf("get s3://%s/%s: %w", e.bucket, ident, err))
	}
	return out.Body, nil
}

// Write uploads via the transfer manager, which splits large streams into
// multipart uploads. S3 has no settable mtime; LastModified becomes the
// entry's observed time on the next listing.
func (e *S3) Write(ctx context.Context, relPath string, r io.Reader, size, mtime int64) (string, error) {
	key := e.prefix + strings.TrimPrefix(relPath, "/")
	_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return "", classifyS3(fmt.Errorf("put s3://%s/%s: %w", e.bucket, key, err))
	}
	return key, nil
}

func (e *S3) Delete(ctx context.Context, ident string) error {
	_, err := e.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(ident),
	})
	if err != nil {
		return classifyS3(fmt.Errorf("delete s3://%s/%s: %w", e.bucket, ident, err))
	}
	return nil
}

func (e *S3) Resolve(ctx context.Context, u *url.URL) (string, error) {
	rel, err := core.RemoveBaseURL(u, e.base)
	if err != nil {
		return "", err
	}
	key := e.prefix + rel
	if _, _, err := e.Stat(ctx, key); err != nil {
		return "", err
	}
	return key, nil
}

// classifyS3 maps AWS API errors onto the sentinel and retryability scheme.
func classifyS3(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return core.Transient(err)
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return core.Permanent(err)
	case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError", "Throttling", "ThrottlingException":
		return core.Transient(err)
	}
	if apiErr.ErrorFault() == smithy.FaultServer {
		return core.Transient(err)
	}
	return core.Permanent(err)
}

var _ core.Endpoint = (*S3)(nil)
