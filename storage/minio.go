package storage

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 72 * time.Hour

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Domain, when set, replaces presigned URLs with Domain/bucket/key.
	Domain string
}

type MinIOStore struct {
	client     *minio.Client
	cfg        MinIOConfig
	bucketOnce sync.Once
	bucketErr  error
}

// NewMinIO 初始化连接
func NewMinIO(cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	log.Println("[Storage] MinIO 连接成功")
	return &MinIOStore{client: client, cfg: cfg}, nil
}

// ensureBucket 自动创建 Bucket
func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
		if err != nil {
			s.bucketErr = fmt.Errorf("检查 Bucket 失败: %w", err)
			return
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				s.bucketErr = fmt.Errorf("创建 Bucket 失败: %w", err)
				return
			}
			log.Printf("[Storage] Bucket '%s' 已创建", s.cfg.Bucket)
		}
	})
	return s.bucketErr
}

func (s *MinIOStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.FPutObject(ctx, s.cfg.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("上传 MinIO 失败: %w", err)
	}
	log.Printf("[Storage] 文件已上传: %s", key)

	if s.cfg.Domain != "" {
		return fmt.Sprintf("%s/%s/%s", s.cfg.Domain, s.cfg.Bucket, key), nil
	}
	presignedURL, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, presignExpiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	return presignedURL.String(), nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除 MinIO 对象失败: %w", err)
	}
	return nil
}
