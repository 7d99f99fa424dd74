// Package storage uploads extracted clips and thumbnails to S3 so the files
// survive local disk cleanup and can be served from a CDN-fronted bucket.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// FolderClips is the S3 prefix for clip objects.
	FolderClips = "clips"
	// FolderThumbnails is the S3 prefix for thumbnail objects.
	FolderThumbnails = "thumbnails"
)

// Config holds S3 client configuration.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ClipsBucket     string
	ThumbsBucket    string
}

// S3 uploads local files and returns their public object URLs.
type S3 struct {
	uploader *manager.Uploader
	cfg      Config
}

// NewS3 creates an S3 client. Static credentials from config win; otherwise
// the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	} else {
		slog.Warn("s3 client using default credential chain")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	return &S3{uploader: uploader, cfg: cfg}, nil
}

// ClipKey returns the object key for a clip: clips/{session_id}/{filename}.
func ClipKey(sessionID, filename string) string {
	return path.Join(FolderClips, sessionID, path.Base(filename))
}

// ThumbKey returns the object key for a thumbnail: thumbnails/{session_id}/{filename}.
func ThumbKey(sessionID, filename string) string {
	return path.Join(FolderThumbnails, sessionID, path.Base(filename))
}

// UploadClip uploads a local clip file and returns its public URL.
func (s *S3) UploadClip(ctx context.Context, sessionID, filePath string) (string, error) {
	return s.uploadFile(ctx, s.cfg.ClipsBucket, ClipKey(sessionID, filePath), filePath, "video/mp4")
}

// UploadThumbnail uploads a local thumbnail file and returns its public URL.
func (s *S3) UploadThumbnail(ctx context.Context, sessionID, filePath string) (string, error) {
	return s.uploadFile(ctx, s.cfg.ThumbsBucket, ThumbKey(sessionID, filePath), filePath, "image/jpeg")
}

func (s *S3) uploadFile(ctx context.Context, bucket, key, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.ObjectURL(bucket, key), nil
}

// ObjectURL returns the public URL for an object.
func (s *S3) ObjectURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key)
}
