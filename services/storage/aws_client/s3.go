package aws_client

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/internal/tracing"
)

type S3Client interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

type s3Client struct {
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	svc        *s3.S3
}

func NewS3Client(config *aws.Config) S3Client {
	sess := session.Must(session.NewSession(config))
	return &s3Client{
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		svc:        s3.New(sess),
	}
}

func (c *s3Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "s3Client.Upload")
	defer span.Finish()
	tracing.TagEntity(span, key)

	_, err := c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (c *s3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "s3Client.Download")
	defer span.Finish()
	tracing.TagEntity(span, key)

	buffer := &aws.WriteAtBuffer{}
	_, err := c.downloader.DownloadWithContext(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (c *s3Client) Delete(ctx context.Context, bucket, key string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "s3Client.Delete")
	defer span.Finish()
	tracing.TagEntity(span, key)

	_, err := c.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}
