// Package verify checks uploaded objects through the S3 compatible endpoint
// of the storage service.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numVerifyRetries = 3

// ErrObjectNotFound is returned when the object does not exist after all retries.
var ErrObjectNotFound = errors.New("object not found in bucket")

// ErrSizeMismatch is returned when the stored object size differs from the uploaded size.
var ErrSizeMismatch = errors.New("object size mismatch")

// HeadObjectAPI is the part of the S3 client the Verifier needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Params ...
type S3Params struct {
	// Endpoint is the S3 compatible endpoint, e.g. https://xyz.supabase.co/storage/v1/s3
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Verifier checks that an uploaded object exists with the expected size.
type Verifier struct {
	client HeadObjectAPI
	logger log.Logger
	wait   time.Duration
}

// NewVerifier ...
func NewVerifier(client HeadObjectAPI, logger log.Logger) *Verifier {
	return &Verifier{
		client: client,
		logger: logger,
		wait:   2 * time.Second,
	}
}

// NewS3Verifier creates a Verifier talking to the S3 compatible endpoint in params.
func NewS3Verifier(ctx context.Context, params S3Params, logger log.Logger) (*Verifier, error) {
	if params.Endpoint == "" {
		return nil, fmt.Errorf("S3 endpoint must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(params.Endpoint)
		o.UsePathStyle = true
	})
	return NewVerifier(client, logger), nil
}

// Verify checks that bucket/key exists and is size bytes long. Missing objects
// are retried since the storage index can lag behind the upload.
func (v *Verifier) Verify(ctx context.Context, bucket, key string, size int64) error {
	err := retry.Times(numVerifyRetries).Wait(v.wait).TryWithAbort(func(attempt uint) (error, bool) {
		if ctx.Err() != nil {
			return ctx.Err(), true
		}

		output, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					v.logger.Debugf("Object %s/%s not found (attempt %d)", bucket, key, attempt+1)
					return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key), false
				default:
					return fmt.Errorf("head object: %w", err), true
				}
			}
			return fmt.Errorf("head object: %w", err), false
		}

		if actual := aws.ToInt64(output.ContentLength); actual != size {
			return fmt.Errorf("%w: expected %d bytes, found %d", ErrSizeMismatch, size, actual), true
		}
		return nil, true
	})
	if err != nil {
		return err
	}

	v.logger.Debugf("Verified %s/%s (%d bytes)", bucket, key, size)
	return nil
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
