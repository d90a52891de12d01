package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader 把产物写到对象存储的 path 下
type Uploader interface {
	Put(ctx context.Context, path string, body []byte) error
}

// StorageError 上传失败，携带目标路径
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: put %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader 写入 S3（或兼容 S3 的服务，例如 MinIO）
type S3Uploader struct {
	client putObjectAPI
	bucket string
}

// NewS3Uploader 凭据走 AWS 默认链；endpoint 非空时使用 path-style 访问自定义地址
func NewS3Uploader(ctx context.Context, bucket, region, endpoint string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{client: client, bucket: bucket}, nil
}

func (u *S3Uploader) Put(ctx context.Context, path string, body []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType(path)),
	})
	if err != nil {
		return &StorageError{Path: "s3://" + u.bucket + "/" + path, Err: err}
	}
	return nil
}

// LocalUploader 写入本地目录，用于开发与离线运行
type LocalUploader struct {
	root string
}

func NewLocalUploader(root string) *LocalUploader {
	return &LocalUploader{root: root}
}

// Put 先写临时文件再 rename，中途失败不会留下半个产物
func (u *LocalUploader) Put(ctx context.Context, path string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Path: path, Err: err}
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return &StorageError{Path: path, Err: fmt.Errorf("path escapes output directory")}
	}

	target := filepath.Join(u.root, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &StorageError{Path: target, Err: err}
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return &StorageError{Path: target, Err: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Path: target, Err: err}
	}
	return nil
}

func contentType(path string) string {
	if strings.HasSuffix(path, ".csv") {
		return ContentTypeCSV
	}
	return "application/octet-stream"
}
