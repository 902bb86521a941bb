package memory

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

type object struct {
	data      []byte
	updatedAt time.Time
}

// Backend is an in-memory implementation of the simpleupload.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
	}
}

// PutPlaceholder returns key unchanged. Content arrives later through Upload.
func (b *Backend) PutPlaceholder(ctx context.Context, key string) (string, error) {
	return key, nil
}

// Upload stores content under key, replacing anything already there
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = object{data: data, updatedAt: time.Now().UTC()}
	return nil
}

// Exists reports whether an object is stored under key
func (b *Backend) Exists(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[key]
	return exists
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; !exists {
		return simpleupload.ErrBlobNotFound
	}

	delete(b.objects, key)
	return nil
}

// List returns the objects under prefix ordered by key
func (b *Backend) List(ctx context.Context, prefix string) ([]simpleupload.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var metas []simpleupload.ObjectMeta
	for key, obj := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		metas = append(metas, simpleupload.ObjectMeta{
			Key:       key,
			Size:      int64(len(obj.data)),
			UpdatedAt: obj.updatedAt,
		})
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Key < metas[j].Key })
	return metas, nil
}
