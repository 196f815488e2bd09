package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the S3-compatible alternate backend.
type S3Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Secure        bool
	PresignExpiry time.Duration
}

// S3Uploader implements Uploader against any S3-compatible bucket, for
// operators who target their own storage instead of the public file host.
type S3Uploader struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3Uploader creates an S3 backend client.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 7 * 24 * time.Hour
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &S3Uploader{client: client, cfg: cfg}, nil
}

// Upload streams path into the bucket and returns a presigned download link
// as the durable reference.
func (u *S3Uploader) Upload(ctx context.Context, path string, progress ProgressFunc, status StatusFunc) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}

	objectName := filepath.Base(path)
	if status != nil {
		status(fmt.Sprintf("uploading %s to bucket %s", objectName, u.cfg.Bucket))
	}

	counted := &countingReader{r: file, total: info.Size(), progress: progress}
	uploaded, err := u.client.PutObject(ctx, u.cfg.Bucket, objectName, counted, info.Size(), minio.PutObjectOptions{
		ContentType: contentTypeForArchive(objectName),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	presigned, err := u.client.PresignedGetObject(ctx, u.cfg.Bucket, objectName, u.cfg.PresignExpiry, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("presign download link: %w", err)
	}

	return &UploadResult{
		DownloadURL: presigned.String(),
		FileName:    objectName,
		Size:        uploaded.Size,
		FileID:      uploaded.ETag,
	}, nil
}

func contentTypeForArchive(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip":
		return "application/zip"
	case ".7z":
		return "application/x-7z-compressed"
	case ".rar":
		return "application/vnd.rar"
	default:
		return "application/octet-stream"
	}
}

// cleanEndpoint strips the protocol from an endpoint URL to the host:port
// form minio expects.
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("endpoint has no host")
	}
	return parsed.Host, nil
}
