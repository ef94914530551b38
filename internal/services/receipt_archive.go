package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"iapBack/internal/models"
)

// ReceiptArchiver keeps a copy of raw provider payloads.
type ReceiptArchiver interface {
	Archive(ctx context.Context, r models.Receipt) error
}

// S3Putter is the part of the S3 client the archive needs.
type S3Putter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

type S3ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type S3ReceiptArchive struct {
	client S3Putter
	bucket string
	prefix string
}

func NewS3ReceiptArchive(cfg S3ArchiveConfig) (*S3ReceiptArchive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("receipt archive: bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("receipt archive: session: %w", err)
	}
	return NewS3ReceiptArchiveWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

func NewS3ReceiptArchiveWithClient(client S3Putter, bucket, prefix string) *S3ReceiptArchive {
	if prefix == "" {
		prefix = "receipts"
	}
	return &S3ReceiptArchive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Archive stores the payload under {prefix}/{platform}/{hash}.json. The key is
// derived from the token so repeated uploads overwrite the same object.
func (a *S3ReceiptArchive) Archive(ctx context.Context, r models.Receipt) error {
	key := fmt.Sprintf("%s/%s/%s.json", a.prefix, r.Platform, r.Hash)
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(r.Data),
		ContentLength: aws.Int64(int64(len(r.Data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("unable to archive receipt to S3: %w", err)
	}
	return nil
}
