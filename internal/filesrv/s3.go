package filesrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

const (
	backendS3    = "s3"
	mtimeMetaKey = "mtime"
)

// S3API 是 S3Backend 使用的客户端子集，*s3.Client 满足该接口。
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend 把导出文件存放在 S3 兼容 bucket 中；目录即 key 前缀，
// 修改时间保存在对象元数据 mtime 中。
type S3Backend struct {
	client   S3API
	bucket   string
	spoolDir string
}

// NewS3Backend 根据配置创建客户端，Endpoint 非空时使用 path-style 访问（MinIO 等）。
func NewS3Backend(ctx context.Context, cfg config.S3Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BackendWithClient(client, cfg.Bucket, cfg.SpoolDir)
}

// NewS3BackendWithClient 使用现成客户端构建后端，spoolDir 为空时使用系统临时目录。
func NewS3BackendWithClient(client S3API, bucket, spoolDir string) (*S3Backend, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &S3Backend{client: client, bucket: bucket, spoolDir: spoolDir}, nil
}

// Name 返回后端类型。
func (b *S3Backend) Name() string { return backendS3 }

func (b *S3Backend) Stat(ctx context.Context, name string) (Entry, error) {
	if name == "." {
		return Entry{IsDir: true}, nil
	}
	start := time.Now()
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err == nil {
		metrics.RecordBackendOperation(backendS3, "head_object", time.Since(start), true)
		entry := Entry{Size: aws.ToInt64(out.ContentLength)}
		entry.ModTime = objectModTime(out.Metadata, out.LastModified)
		return entry, nil
	}
	if !isS3NotFound(err) {
		metrics.RecordBackendOperation(backendS3, "head_object", time.Since(start), false)
		return Entry{}, mapS3Error("stat", name, err)
	}

	list, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(strings.TrimSuffix(name, "/") + "/"),
		MaxKeys: aws.Int32(1),
	})
	metrics.RecordBackendOperation(backendS3, "list_objects", time.Since(start), err == nil)
	if err != nil {
		return Entry{}, mapS3Error("stat", name, err)
	}
	if aws.ToInt32(list.KeyCount) > 0 || len(list.Contents) > 0 {
		return Entry{IsDir: true}, nil
	}
	return Entry{}, fmt.Errorf("stat %s: %w", name, protocol.ErrNotFound)
}

func (b *S3Backend) Create(ctx context.Context, name string) error {
	if _, err := b.Stat(ctx, name); err == nil {
		return nil
	} else if !errors.Is(err, protocol.ErrNotFound) {
		return err
	}
	return b.put(ctx, name, strings.NewReader(""), 0, time.Now().UnixNano())
}

func (b *S3Backend) ReadAt(ctx context.Context, name string, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	})
	if err != nil {
		metrics.RecordBackendOperation(backendS3, "get_object", time.Since(start), false)
		return 0, mapS3Error("read", name, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	metrics.RecordBackendOperation(backendS3, "get_object", time.Since(start), err == nil)
	if err != nil {
		return n, fmt.Errorf("read %s at %d: %w", name, off, protocol.ErrIO)
	}
	return n, nil
}

func (b *S3Backend) OpenWriter(_ context.Context, name string) (Writer, error) {
	spool, err := os.CreateTemp(b.spoolDir, "anycache-s3-*")
	if err != nil {
		return nil, fmt.Errorf("create spool for %s: %w", name, protocol.ErrIO)
	}
	return &s3Writer{backend: b, spool: spool, name: name}, nil
}

func (b *S3Backend) Remove(ctx context.Context, name string) error {
	entry, err := b.Stat(ctx, name)
	if err != nil {
		return err
	}
	if entry.IsDir {
		return fmt.Errorf("remove %s: %w", name, protocol.ErrIsADirectory)
	}
	start := time.Now()
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	metrics.RecordBackendOperation(backendS3, "delete_object", time.Since(start), err == nil)
	if err != nil {
		return mapS3Error("remove", name, err)
	}
	return nil
}

func (b *S3Backend) put(ctx context.Context, name string, body io.Reader, size, modTime int64) error {
	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(name),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{mtimeMetaKey: strconv.FormatInt(modTime, 10)},
	})
	metrics.RecordBackendOperation(backendS3, "put_object", time.Since(start), err == nil)
	if err != nil {
		return mapS3Error("put", name, err)
	}
	return nil
}

// s3Writer 先落到本地 spool 文件，Commit 时整体上传。
type s3Writer struct {
	backend *S3Backend
	spool   *os.File
	name    string
	size    int64
}

func (w *s3Writer) Write(p []byte) (int, error) {
	n, err := w.spool.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("spool %s: %w", w.name, protocol.ErrIO)
	}
	return n, nil
}

func (w *s3Writer) Commit(ctx context.Context, modTime int64) error {
	defer w.cleanup()
	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool for %s: %w", w.name, protocol.ErrIO)
	}
	return w.backend.put(ctx, w.name, w.spool, w.size, modTime)
}

func (w *s3Writer) Abort() error {
	w.cleanup()
	return nil
}

func (w *s3Writer) cleanup() {
	_ = w.spool.Close()
	_ = os.Remove(w.spool.Name())
}

func objectModTime(meta map[string]string, lastModified *time.Time) int64 {
	for key, value := range meta {
		if strings.EqualFold(key, mtimeMetaKey) {
			if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
				return parsed
			}
		}
	}
	if lastModified != nil {
		return lastModified.UnixNano()
	}
	return 0
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func mapS3Error(op, name string, err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%s %s: %w", op, name, protocol.ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied" {
		return fmt.Errorf("%s %s: %w", op, name, protocol.ErrPermissionDenied)
	}
	return fmt.Errorf("%s %s: %v: %w", op, name, err, protocol.ErrIO)
}
