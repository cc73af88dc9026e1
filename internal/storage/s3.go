package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cbwheadon/thumbd/internal/config"
)

// S3 — коллаборатор object storage: скачивание исходников и выгрузка
// результатов. Регион может меняться от job к job, поэтому клиенты
// кэшируются по региону.
type S3 struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	clients   map[string]*s3.Client
	uploaders map[string]*manager.Uploader
}

// New создаёт клиент object storage.
func New(cfg *config.Config, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		cfg:       cfg,
		logger:    logger,
		clients:   make(map[string]*s3.Client),
		uploaders: make(map[string]*manager.Uploader),
	}
}

// client возвращает кэшированный s3.Client для региона.
func (s *S3) client(ctx context.Context, region string) (*s3.Client, error) {
	if region == "" {
		region = s.cfg.AWSRegion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[region]; ok {
		return c, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	// Без явных ключей полагаемся на стандартную цепочку credentials
	// (IAM role, env, профиль).
	if s.cfg.AWSKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AWSKey, s.cfg.AWSSecret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg)
	s.clients[region] = c
	s.uploaders[region] = manager.NewUploader(c)
	return c, nil
}

// uploader возвращает кэшированный manager.Uploader для региона.
func (s *S3) uploader(ctx context.Context, region string) (*manager.Uploader, error) {
	if region == "" {
		region = s.cfg.AWSRegion
	}
	if _, err := s.client(ctx, region); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaders[region], nil
}

// Download скачивает объект во временный локальный файл
// и возвращает его путь. Удаление файла — обязанность вызывающего.
func (s *S3) Download(ctx context.Context, bucket, region, key string) (string, error) {
	if bucket == "" {
		bucket = s.cfg.Bucket
	}

	client, err := s.client(ctx, region)
	if err != nil {
		return "", err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("download %q from %q: %w", key, bucket, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp(s.cfg.TmpDir, "thumbd-src-*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close %q: %w", f.Name(), err)
	}

	s.logger.Debug("downloaded source", "bucket", bucket, "key", key, "local", f.Name())
	return f.Name(), nil
}

// Save выгружает локальный файл под указанным ключом.
// ACL и storage class берутся из конфигурации процесса.
func (s *S3) Save(ctx context.Context, bucket, region, localPath, key string) error {
	if bucket == "" {
		bucket = s.cfg.Bucket
	}

	up, err := s.uploader(ctx, region)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         f,
		ACL:          types.ObjectCannedACL(s.cfg.S3ACL),
		StorageClass: types.StorageClass(s.cfg.S3StorageClass),
	}
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := up.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload %q to %q: %w", key, bucket, err)
	}

	s.logger.Debug("uploaded thumbnail", "bucket", bucket, "key", key)
	return nil
}
