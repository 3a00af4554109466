package storage

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/services/storage/aws_client"
)

// ObjectStorageService keeps raw message bodies out of the database. Jobs
// hold only a bodyRef key into the bucket.
type ObjectStorageService struct {
	client aws_client.S3Client
	bucket string
}

func NewStorageService(client aws_client.S3Client, bucket string) interfaces.StorageService {
	return &ObjectStorageService{client: client, bucket: bucket}
}

// NewR2StorageService targets a Cloudflare R2 bucket through the S3 API.
func NewR2StorageService(accountID, accessKeyID, accessKeySecret, bucket string) interfaces.StorageService {
	client := aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + accountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	return NewStorageService(client, bucket)
}

// NewS3StorageService targets a native AWS S3 bucket.
func NewS3StorageService(awsRegion, accessKeyID, accessKeySecret, bucket string) interfaces.StorageService {
	client := aws_client.NewS3Client(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	})
	return NewStorageService(client, bucket)
}

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Upload(ctx, s.bucket, key, data, contentType)
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Download(ctx, s.bucket, key)
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Delete(ctx, s.bucket, key)
}
