package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/factual/s3journal/internal/logger"
)

// S3Config describes how to reach the bucket backing a journal instance.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // non-empty for MinIO / S3-compatible endpoints
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	MinPartSize  int64 // bytes; parts below this must be the final part
}

// S3Store is the Store implementation backed by Amazon S3 (or an
// S3-compatible endpoint). It keeps no per-upload state between calls
// (each multipart session is identified by the MultipartDescriptor passed
// in) and translates SDK errors into the Store error taxonomy.
type S3Store struct {
	client      *s3.Client
	bucket      string
	minPartSize int64
}

// NewS3ClientFromConfig builds an aws-sdk-go-v2 S3 client from S3Config,
// supporting both real AWS endpoints and path-style S3-compatible
// endpoints (MinIO, etc.) from the same construction path.
func NewS3ClientFromConfig(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return client, nil
}

// NewS3Store constructs an S3Store from an already-built client.
func NewS3Store(client *s3.Client, cfg S3Config) *S3Store {
	minPartSize := cfg.MinPartSize
	if minPartSize <= 0 {
		minPartSize = 5 * 1024 * 1024
	}
	return &S3Store{client: client, bucket: cfg.Bucket, minPartSize: minPartSize}
}

var _ Store = (*S3Store)(nil)

func (s *S3Store) InitMultipart(ctx context.Context, key FileKey) (MultipartDescriptor, error) {
	object := key.Object()

	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return MultipartDescriptor{}, s.classify(err, object, "create multipart upload")
	}

	return MultipartDescriptor{Key: key, UploadID: aws.ToString(out.UploadId)}, nil
}

func (s *S3Store) UploadPart(ctx context.Context, desc MultipartDescriptor, partNumber int32, data []byte, last bool) (PartState, error) {
	if !last && int64(len(data)) <= s.minPartSize {
		return PartState{}, newError(CodeFatal, desc.Key.Object(),
			fmt.Sprintf("non-final part %d has %d bytes, below minimum part size %d", partNumber, len(data), s.minPartSize), nil)
	}

	object := desc.Key.Object()

	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(object),
		UploadId:   aws.String(desc.UploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return PartState{}, s.classify(err, object, fmt.Sprintf("upload part %d", partNumber))
	}

	return PartState{PartNumber: partNumber, ETag: aws.ToString(out.ETag), Size: int64(len(data))}, nil
}

func (s *S3Store) CompleteMultipart(ctx context.Context, desc MultipartDescriptor, parts []PartState) error {
	object := desc.Key.Object()

	if len(parts) == 0 {
		// S3 rejects CompleteMultipartUpload with no parts; an upload
		// that never received data has nothing to complete.
		return s.AbortMultipart(ctx, desc)
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(object),
		UploadId: aws.String(desc.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		// A 400 here (e.g. a part list S3 no longer recognizes) is
		// fatal and propagated rather than retried, per the resolution
		// of spec.md's CompleteMultipart-ambiguity open question.
		return s.classify(err, object, "complete multipart upload")
	}

	return nil
}

func (s *S3Store) AbortMultipart(ctx context.Context, desc MultipartDescriptor) error {
	object := desc.Key.Object()

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(object),
		UploadId: aws.String(desc.UploadID),
	})
	if err != nil {
		return s.classify(err, object, "abort multipart upload")
	}
	return nil
}

func (s *S3Store) ListComplete(ctx context.Context, directory string) ([]FileKey, error) {
	var keys []FileKey

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(directory + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.classify(err, directory, "list objects")
		}
		for _, obj := range page.Contents {
			key, err := parseObjectKey(directory, aws.ToString(obj.Key))
			if err != nil {
				logger.Warn("objectstore: skipping unparseable object key", "key", aws.ToString(obj.Key), "error", err)
				continue
			}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (s *S3Store) ListMultipart(ctx context.Context, directory string) ([]MultipartDescriptor, error) {
	var descs []MultipartDescriptor

	out, err := s.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(directory + "/"),
	})
	if err != nil {
		return nil, s.classify(err, directory, "list multipart uploads")
	}

	for _, u := range out.Uploads {
		key, err := parseObjectKey(directory, aws.ToString(u.Key))
		if err != nil {
			logger.Warn("objectstore: skipping unparseable in-progress upload key", "key", aws.ToString(u.Key), "error", err)
			continue
		}
		descs = append(descs, MultipartDescriptor{Key: key, UploadID: aws.ToString(u.UploadId)})
	}

	return descs, nil
}

func (s *S3Store) ListParts(ctx context.Context, desc MultipartDescriptor) ([]PartState, error) {
	var parts []PartState
	object := desc.Key.Object()

	paginator := s3.NewListPartsPaginator(s.client, &s3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(object),
		UploadId: aws.String(desc.UploadID),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.classify(err, object, "list parts")
		}
		for _, p := range page.Parts {
			parts = append(parts, PartState{
				PartNumber: aws.ToInt32(p.PartNumber),
				ETag:       aws.ToString(p.ETag),
				Size:       aws.ToInt64(p.Size),
			})
		}
	}

	return parts, nil
}

// classify maps an AWS SDK error into the Store taxonomy: 404s become
// CodeNotFound, 4xx otherwise become CodeFatal (not worth retrying), and
// everything else (5xx, network errors, throttling) becomes CodeTransient.
func (s *S3Store) classify(err error, path, op string) *Error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == 404:
			return newError(CodeNotFound, path, op+": not found", err)
		case respErr.HTTPStatusCode() >= 400 && respErr.HTTPStatusCode() < 500:
			return newError(CodeFatal, path, fmt.Sprintf("%s: %d", op, respErr.HTTPStatusCode()), err)
		}
	}
	return newError(CodeTransient, path, op+": transient failure", err)
}

const objectSuffix = ".journal"

func parseObjectKey(directory, key string) (FileKey, error) {
	prefix := directory + "/"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return FileKey{}, fmt.Errorf("objectstore: object key %q is not under directory %q", key, directory)
	}
	rest := key[len(prefix):]

	if !strings.HasSuffix(rest, objectSuffix) {
		return FileKey{}, fmt.Errorf("objectstore: malformed object key %q: missing %q suffix", key, objectSuffix)
	}
	rest = strings.TrimSuffix(rest, objectSuffix)

	sep := strings.LastIndex(rest, "-")
	if sep < 0 {
		return FileKey{}, fmt.Errorf("objectstore: malformed object key %q", key)
	}

	id := rest[:sep]
	fileNumber, err := strconv.ParseUint(rest[sep+1:], 10, 64)
	if err != nil {
		return FileKey{}, fmt.Errorf("objectstore: malformed object key %q: %w", key, err)
	}

	return FileKey{Directory: directory, FileID: id, FileNumber: fileNumber}, nil
}
