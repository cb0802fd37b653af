package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

// MemoryAdapter is an in-memory Adapter used by tests and local development.
// It implements the full contract, including presigned-URL shaped output,
// and supports error injection so callers can exercise failure paths.
type MemoryAdapter struct {
	tier      types.TierID
	publicURL string

	mu      sync.RWMutex
	objects map[string]memoryObject

	// Error injection hooks. When non-nil, the corresponding operation
	// fails with the given error before touching state.
	FailPut     error
	FailGet     error
	FailDelete  error
	FailPresign error
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemoryAdapter creates an empty in-memory adapter for the given tier.
func NewMemoryAdapter(tier types.TierID) *MemoryAdapter {
	return &MemoryAdapter{
		tier:      tier,
		publicURL: fmt.Sprintf("https://%s.local", tier),
		objects:   make(map[string]memoryObject),
	}
}

// Tier reports the tier this adapter serves.
func (m *MemoryAdapter) Tier() types.TierID { return m.tier }

// Put stores the object bytes.
func (m *MemoryAdapter) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.KindTimeout, err, "put canceled").WithComponent("backend.memory")
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "read upload body").WithComponent("backend.memory")
	}
	if size >= 0 && int64(len(data)) != size {
		return errors.Newf(errors.KindInvalidInput, "size mismatch: declared %d, read %d", size, len(data)).
			WithComponent("backend.memory")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

// Get returns a reader over the stored bytes.
func (m *MemoryAdapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.FailGet != nil {
		return nil, m.FailGet
	}

	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "object %q not found", key).
			WithComponent("backend.memory").WithOperation("get")
	}

	// Copy so callers cannot mutate stored state through the reader.
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Delete removes the object. Missing objects are ignored.
func (m *MemoryAdapter) Delete(ctx context.Context, key string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Presign returns a synthetic URL embedding the key and expiry.
func (m *MemoryAdapter) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.FailPresign != nil {
		return "", m.FailPresign
	}

	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", errors.Newf(errors.KindNotFound, "object %q not found", key).
			WithComponent("backend.memory").WithOperation("presign")
	}

	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%s", m.publicURL, key, strconv.FormatInt(expires, 10)), nil
}

// PublicURL returns a stable synthetic URL for the object.
func (m *MemoryAdapter) PublicURL(key string) (string, error) {
	return fmt.Sprintf("%s/%s", m.publicURL, key), nil
}

// List returns one page of keys under prefix in lexical order. The cursor is
// the last key of the previous page.
func (m *MemoryAdapter) List(ctx context.Context, prefix string, pageSize int, cursor string) (*ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &ListPage{}
	for _, k := range keys {
		if cursor != "" && k <= cursor {
			continue
		}
		if len(page.Objects) == pageSize {
			page.Truncated = true
			page.NextCursor = page.Objects[len(page.Objects)-1].Key
			break
		}
		obj := m.objects[k]
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          k,
			SizeBytes:    int64(len(obj.data)),
			LastModified: obj.modified,
		})
	}
	m.mu.RUnlock()

	return page, nil
}

// Len reports the number of stored objects.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether an object exists.
func (m *MemoryAdapter) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}
