// Пакет storage хранит изображения opportunities в MinIO (S3-совместимое хранилище)
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ObjectClient: используемые методы *minio.Client
type ObjectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Options: параметры подключения к MinIO
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStorage загружает и удаляет объекты одного бакета
type MinIOStorage struct {
	client ObjectClient
	bucket string
}

// NewMinIOStorage подключается к MinIO
func NewMinIOStorage(opts Options) (*MinIOStorage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return New(client, opts.Bucket), nil
}

// New создаёт хранилище поверх готового клиента
func New(client ObjectClient, bucket string) *MinIOStorage {
	return &MinIOStorage{client: client, bucket: bucket}
}

// Bucket возвращает имя бакета
func (s *MinIOStorage) Bucket() string {
	return s.bucket
}

// publicReadPolicy разрешает анонимное чтение объектов бакета
func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Action":["s3:GetObject"],"Effect":"Allow","Principal":{"AWS":["*"]},"Resource":["arn:aws:s3:::%s/*"],"Sid":""}]}`, bucket)
}

// EnsureBucket создаёт бакет с публичным чтением, если его ещё нет
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	log.Info().Str("bucket", s.bucket).Msg("бакет создан")
	return nil
}

// Upload сохраняет объект по пути path. size = -1, если размер неизвестен
func (s *MinIOStorage) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	log.Debug().Str("bucket", s.bucket).Str("path", path).Int64("size", size).Msg("изображение загружено")
	return nil
}

// Remove удаляет объект. Отсутствие объекта ошибкой не считается
func (s *MinIOStorage) Remove(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	log.Debug().Str("bucket", s.bucket).Str("path", path).Msg("изображение удалено")
	return nil
}

// HealthCheck проверяет, что бакет доступен
func (s *MinIOStorage) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("MinIO health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}
