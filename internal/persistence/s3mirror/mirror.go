// Package s3mirror uploads region backups to an S3-compatible bucket (AWS
// S3, Cloudflare R2, MinIO) after a prune run.
package s3mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Secure    bool
	Region    string
	AccessKey string
	SecretKey string
}

// Putter is the subset of *minio.Client the mirror needs.
type Putter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewClient builds a minio client. Static keys win; otherwise the usual
// AWS_* environment variables are used.
func NewClient(cfg Config) (*minio.Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Region: cfg.Region,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create s3 client")
	}
	return client, nil
}

type Stats struct {
	Enqueued      uint64
	Uploaded      uint64
	Failed        uint64
	BytesUploaded int64
}

// Mirror uploads files under baseDir with a fixed pool of workers. Object
// keys are the file paths relative to baseDir, below the configured prefix.
type Mirror struct {
	client  Putter
	bucket  string
	baseDir string
	prefix  string
	logger  logrus.FieldLogger

	jobs    chan string
	wg      sync.WaitGroup
	backoff time.Duration

	mu       sync.Mutex
	failures []error

	enqueued atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	bytes    atomic.Int64
}

func NewMirror(client Putter, bucket, baseDir, prefix string, workers int, logger logrus.FieldLogger) *Mirror {
	if workers <= 0 {
		workers = 2
	}
	m := &Mirror{
		client:  client,
		bucket:  bucket,
		baseDir: baseDir,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:  logger,
		jobs:    make(chan string, workers*4),
		backoff: 200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue blocks while every worker is busy and the queue is full.
func (m *Mirror) Enqueue(localPath string) {
	m.enqueued.Add(1)
	m.jobs <- localPath
}

// Close waits for every queued upload and returns the failed ones.
func (m *Mirror) Close() error {
	close(m.jobs)
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) == 0 {
		return nil
	}
	msgs := make([]string, len(m.failures))
	for i, err := range m.failures {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%d uploads failed: %s", len(m.failures), strings.Join(msgs, "; "))
}

func (m *Mirror) Stats() Stats {
	return Stats{
		Enqueued:      m.enqueued.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		BytesUploaded: m.bytes.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	log := m.logger.WithField("action", "s3_mirror_upload").WithField("local", localPath)
	key, err := m.ObjectKey(localPath)
	if err == nil {
		var size int64
		size, err = m.uploadWithRetry(key, localPath)
		if err == nil {
			m.uploaded.Add(1)
			m.bytes.Add(size)
			log.WithField("key", key).Debug("uploaded")
			return
		}
	}
	m.failed.Add(1)
	log.WithError(err).Warn("upload failed")
	m.mu.Lock()
	m.failures = append(m.failures, errors.Wrapf(err, "upload %s", filepath.Base(localPath)))
	m.mu.Unlock()
}

func (m *Mirror) uploadWithRetry(key, localPath string) (int64, error) {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		info, err := m.client.FPutObject(ctx, m.bucket, key, localPath,
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		cancel()
		if err == nil {
			return info.Size, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return 0, lastErr
}

func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.baseDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside backup dir %s", absLocal, absBase)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}
