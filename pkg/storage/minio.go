// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
// 这里的存储桶作为外部文档源使用，只读访问，凭据由配置提供。
package storage

import (
	"context"
	"fmt"
	"io"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object 是存储桶中一个对象的元数据。
type Object struct {
	Key          string
	ContentType  string
	Size         int64
	LastModified string
}

// DocumentStore 是外部文档源需要的最小能力：列出文档、读取文档。
type DocumentStore interface {
	List(ctx context.Context) ([]Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 初始化 MinIO 客户端并确认存储桶存在。存储桶不存在时返回错误，不会创建。
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (DocumentStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("存储桶 '%s' 不存在", cfg.BucketName)
	}
	log.Infof("MinIO 文档源初始化成功, 存储桶: %s", cfg.BucketName)
	return &minioStore{client: client, bucket: cfg.BucketName}, nil
}

// List 递归列出存储桶中的全部对象。
func (s *minioStore) List(ctx context.Context) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("列出 MinIO 对象失败: %w", info.Err)
		}
		out = append(out, toObject(info))
	}
	return out, nil
}

// Open 读取指定对象，调用方负责关闭返回的 reader。
func (s *minioStore) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	// GetObject 是惰性的，Stat 才会真正访问服务端
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("读取 MinIO 对象信息失败: %w", err)
	}
	return obj, toObject(info), nil
}

func toObject(info minio.ObjectInfo) Object {
	return Object{
		Key:          info.Key,
		ContentType:  info.ContentType,
		Size:         info.Size,
		LastModified: info.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
