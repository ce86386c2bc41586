package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-multipart/upload"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

// S3 upload identifier fields.
const (
	S3BucketKey   = "bucket"
	S3ObjectKey   = "key"
	S3UploadIDKey = "upload_id"
)

// Part metadata fields.
const (
	MetadataETag           = "etag"
	MetadataChecksumSHA256 = "checksum_sha256"
)

const (
	numS3Retries      = 3
	s3RetryWait       = 5 * time.Second
	s3MinPartSize     = 5 * 1024 * 1024
	s3MaxPartSize     = 5 * 1024 * 1024 * 1024
	s3MaxParts        = 10000
	s3DefaultPartSize = 8 * 1024 * 1024
)

// S3API is the part of the S3 client multipart uploads need.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Params configures an S3 client built by NewS3ClientFromParams.
type S3Params struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for S3 compatible services.
	Endpoint     string
	UsePathStyle bool
	// ChecksumSHA256 makes S3 verify every part with a SHA-256 checksum.
	ChecksumSHA256 bool
}

// S3Result is the outcome of a completed S3 multipart upload.
type S3Result struct {
	Bucket    string
	Key       string
	Location  string
	ETag      string
	VersionID string
}

// S3Client uploads parts through the S3 multipart upload API.
type S3Client struct {
	api       S3API
	logger    log.Logger
	checksum  bool
	retries   uint
	retryWait time.Duration
}

// NewS3Client wraps an S3 API client. With checksumSHA256 set, S3 verifies every part.
func NewS3Client(api S3API, checksumSHA256 bool, logger log.Logger) *S3Client {
	return &S3Client{
		api:       api,
		logger:    logger,
		checksum:  checksumSHA256,
		retries:   numS3Retries,
		retryWait: s3RetryWait,
	}
}

// NewS3ClientFromParams builds an S3 client from credentials and region.
func NewS3ClientFromParams(ctx context.Context, params S3Params, logger log.Logger) (*S3Client, error) {
	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.UsePathStyle
	})

	return NewS3Client(client, params.ChecksumSHA256, logger), nil
}

// Constraints returns the S3 multipart upload limits.
func (c *S3Client) Constraints() upload.Constraints {
	return upload.Constraints{
		MinPartSize:     s3MinPartSize,
		MaxPartSize:     s3MaxPartSize,
		MaxParts:        s3MaxParts,
		DefaultPartSize: s3DefaultPartSize,
		RequiredKeys:    []string{S3BucketKey, S3ObjectKey},
		UploadIDKey:     S3UploadIDKey,
	}
}

// Initiate creates the multipart upload.
func (c *S3Client) Initiate(ctx context.Context, input *upload.InitiateInput) (string, error) {
	bucket, key := s3Object(input.ID())

	params := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Metadata: input.Metadata,
	}
	if input.ContentType != "" {
		params.ContentType = aws.String(input.ContentType)
	}
	if c.checksum {
		params.ChecksumAlgorithm = types.ChecksumAlgorithmSha256
	}

	var uploadID string
	err := c.withRetry("create multipart upload", func() error {
		out, err := c.api.CreateMultipartUpload(ctx, params)
		if err != nil {
			return err
		}
		if out == nil || out.UploadId == nil {
			return errors.New("no upload id in response")
		}
		uploadID = *out.UploadId
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debugf("Created multipart upload for s3://%s/%s", bucket, key)
	return uploadID, nil
}

// UploadPart uploads one part. The body is rewound before every attempt.
func (c *S3Client) UploadPart(ctx context.Context, input *upload.PartInput) (upload.PartMetadata, error) {
	id := input.ID()
	bucket, key := s3Object(id)
	uploadID, _ := id.Get(S3UploadIDKey)

	var metadata upload.PartMetadata
	err := c.withRetry(fmt.Sprintf("upload part %d", input.Number()), func() error {
		if _, err := input.Body().Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind part: %w", err)
		}

		params := &s3.UploadPartInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(int32(input.Number())),
			ContentLength: aws.Int64(input.Size()),
			Body:          input.Body(),
		}
		if c.checksum {
			params.ChecksumAlgorithm = types.ChecksumAlgorithmSha256
		}

		out, err := c.api.UploadPart(ctx, params)
		if err != nil {
			return err
		}
		if out == nil || out.ETag == nil {
			return errors.New("no ETag in response")
		}

		metadata = upload.PartMetadata{MetadataETag: *out.ETag}
		if out.ChecksumSHA256 != nil {
			metadata[MetadataChecksumSHA256] = *out.ChecksumSHA256
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return metadata, nil
}

// Complete assembles the parts into the final object.
func (c *S3Client) Complete(ctx context.Context, input *upload.CompleteInput) (S3Result, error) {
	id := input.ID()
	bucket, key := s3Object(id)
	uploadID, _ := id.Get(S3UploadIDKey)

	completed := make([]types.CompletedPart, 0, len(input.Parts()))
	for _, p := range input.Parts() {
		part := types.CompletedPart{
			ETag:       aws.String(p.Metadata[MetadataETag]),
			PartNumber: aws.Int32(int32(p.Number)),
		}
		if checksum, ok := p.Metadata[MetadataChecksumSHA256]; ok {
			part.ChecksumSHA256 = aws.String(checksum)
		}
		completed = append(completed, part)
	}

	var result S3Result
	err := c.withRetry("complete multipart upload", func() error {
		out, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		if err != nil {
			return err
		}

		result = S3Result{Bucket: bucket, Key: key}
		if out != nil {
			result.Location = aws.ToString(out.Location)
			result.ETag = aws.ToString(out.ETag)
			result.VersionID = aws.ToString(out.VersionId)
		}
		return nil
	})

	return result, err
}

// Abort discards the multipart upload and its parts.
func (c *S3Client) Abort(ctx context.Context, id upload.ID) error {
	bucket, key := s3Object(id)
	uploadID, _ := id.Get(S3UploadIDKey)

	return c.withRetry("abort multipart upload", func() error {
		_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		return err
	})
}

func (c *S3Client) withRetry(op string, call func() error) error {
	return retry.Times(c.retries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		err := classify(op, call())
		if err == nil {
			return nil, true
		}
		if !isRetryable(err) {
			return err, true
		}

		c.logger.Debugf("%s attempt %d failed: %s", op, attempt+1, err)
		return err, false
	})
}

func s3Object(id upload.ID) (bucket, key string) {
	bucket, _ = id.Get(S3BucketKey)
	key, _ = id.Get(S3ObjectKey)
	return bucket, key
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
