package blob

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/model"
)

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	Bucket   string
	Compress bool

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty store.
func NewMemory(bucket string, compress bool) *Memory {
	return &Memory{Bucket: bucket, Compress: compress, objects: make(map[string][]byte)}
}

// Put stores body, gzip'd with a ".gz" suffix when Compress is set.
func (m *Memory) Put(ctx context.Context, key string, body []byte) (model.ResolvedKey, error) {
	if err := m.EnsureContainer(ctx); err != nil {
		return "", err
	}
	key = CleanKey(key)
	if key == "" {
		return "", eris.New("blob: empty key")
	}

	stored := append([]byte(nil), body...)
	if m.Compress && !strings.HasSuffix(key, ".gz") {
		gz, err := gzipBody(body)
		if err != nil {
			return "", err
		}
		stored, key = gz, key+".gz"
	}

	m.mu.Lock()
	m.objects[key] = stored
	m.mu.Unlock()
	return model.ResolvedKey(key), nil
}

// Exists reports whether key is present.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[CleanKey(key)]
	return ok, nil
}

// Get returns the object, gunzipping ".gz" keys.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	key = CleanKey(key)
	m.mu.RLock()
	b, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
	}
	if strings.HasSuffix(key, ".gz") {
		return gunzipBody(b)
	}
	return append([]byte(nil), b...), nil
}

// EnsureContainer always succeeds.
func (m *Memory) EnsureContainer(context.Context) error { return nil }

// PresignPut returns a memory:// URL; there is no signer to call.
func (m *Memory) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	key = CleanKey(key)
	if key == "" {
		return "", eris.New("blob: empty key")
	}
	q := url.Values{}
	q.Set("content_type", contentType)
	q.Set("expires", ttl.String())
	return "memory://" + m.Bucket + "/" + key + "?" + q.Encode(), nil
}

// Keys returns the stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
