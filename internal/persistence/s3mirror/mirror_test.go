package s3mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string]string
	failures map[string]int
}

func (f *fakeBucket) FPutObject(_ context.Context, bucket, object, filePath string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[object] > 0 {
		f.failures[object]--
		return minio.UploadInfo{}, errors.New("503 slow down")
	}
	b, err := os.ReadFile(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = string(b)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(b))}, nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMirror_UploadsWithRetry(t *testing.T) {
	base := t.TempDir()
	run := filepath.Join(base, "run-1")
	require.NoError(t, os.MkdirAll(run, 0o755))
	for _, n := range []string{"r.0.0.mca", "r.1.0.mca", "meta.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(run, n), []byte(n), 0o644))
	}

	fake := &fakeBucket{objects: map[string]string{}, failures: map[string]int{"worlds/a/run-1/r.1.0.mca": 2}}
	m := NewMirror(fake, "bucket", base, "/worlds/a/", 2, quietLogger())
	m.backoff = 0
	for _, n := range []string{"r.0.0.mca", "r.1.0.mca", "meta.json"} {
		m.Enqueue(filepath.Join(run, n))
	}
	require.NoError(t, m.Close())

	var keys []string
	for k := range fake.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		"bucket/worlds/a/run-1/meta.json",
		"bucket/worlds/a/run-1/r.0.0.mca",
		"bucket/worlds/a/run-1/r.1.0.mca",
	}, keys)
	st := m.Stats()
	assert.EqualValues(t, 3, st.Enqueued)
	assert.EqualValues(t, 3, st.Uploaded)
	assert.EqualValues(t, 0, st.Failed)
	assert.EqualValues(t, len("r.0.0.mca")+len("r.1.0.mca")+len("meta.json"), st.BytesUploaded)
}

func TestMirror_ReportsFailures(t *testing.T) {
	base := t.TempDir()
	good := filepath.Join(base, "ok.mca")
	require.NoError(t, os.WriteFile(good, []byte("x"), 0o644))

	fake := &fakeBucket{objects: map[string]string{}, failures: map[string]int{"ok.mca": 10}}
	m := NewMirror(fake, "b", base, "", 1, quietLogger())
	m.backoff = 0
	m.Enqueue(good)
	m.Enqueue(filepath.Join(t.TempDir(), "outside.mca"))
	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 uploads failed")
	assert.EqualValues(t, 2, m.Stats().Failed)
}

func TestObjectKey(t *testing.T) {
	base := t.TempDir()
	p := filepath.Join(base, "x", "r.0.0.mca")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	m := &Mirror{baseDir: base, prefix: "pre"}
	key, err := m.ObjectKey(p)
	require.NoError(t, err)
	assert.Equal(t, "pre/x/r.0.0.mca", key)

	_, err = m.ObjectKey("")
	assert.Error(t, err)
	_, err = m.ObjectKey(base)
	assert.Error(t, err)
}

func TestNewClient_RequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "https://r2.example.com"})
	assert.Error(t, err)

	c, err := NewClient(Config{Endpoint: "https://r2.example.com/", Bucket: "b", AccessKey: "a", SecretKey: "s", Secure: true})
	require.NoError(t, err)
	assert.Equal(t, "r2.example.com", c.EndpointURL().Host)
}
