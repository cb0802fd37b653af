package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

// MemoryStore is an in-memory Store and TaskStore with the same semantics
// as the Postgres implementation, including version-guarded placement
// updates and atomic access counts. Used by tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*types.StoredFile
	tasks map[string]*types.MigrationTask
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*types.StoredFile),
		tasks: make(map[string]*types.MigrationTask),
	}
}

func copyFile(f *types.StoredFile) *types.StoredFile {
	c := *f
	return &c
}

func copyTask(t *types.MigrationTask) *types.MigrationTask {
	c := *t
	return &c
}

// Create inserts a new file row.
func (s *MemoryStore) Create(ctx context.Context, file *types.StoredFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[file.ID]; exists {
		return errors.Newf(errors.KindConsistencyConflict, "file id already exists").
			WithComponent("catalog.memory").WithDetail("id", file.ID)
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	if file.Version == 0 {
		file.Version = 1
	}
	file.UpdatedAt = file.CreatedAt
	s.files[file.ID] = copyFile(file)
	return nil
}

// GetByID returns a file by id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*types.StoredFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent("catalog.memory")
	}
	return copyFile(f), nil
}

func matches(f *types.StoredFile, filter Filter) bool {
	if filter.OwnerID != "" && f.OwnerID != filter.OwnerID {
		return false
	}
	if filter.ProjectID != "" && f.ProjectID != filter.ProjectID {
		return false
	}
	if filter.Folder != "" && f.Folder != filter.Folder {
		return false
	}
	if filter.Tier != "" && f.Tier != filter.Tier {
		return false
	}
	if filter.MimePrefix != "" {
		if len(f.MimeType) < len(filter.MimePrefix) || f.MimeType[:len(filter.MimePrefix)] != filter.MimePrefix {
			return false
		}
	}
	if filter.CreatedBefore != nil && !f.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}
	if filter.LastAccessedBefore != nil {
		if f.LastAccessedAt != nil && !f.LastAccessedAt.Before(*filter.LastAccessedBefore) {
			return false
		}
	}
	if filter.ExpiredAsOf != nil {
		if f.ExpiresAt == nil || !f.ExpiresAt.Before(*filter.ExpiredAsOf) {
			return false
		}
	}
	return true
}

// Query returns files matching the filter, newest first.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*types.StoredFile, error) {
	s.mu.RLock()
	var out []*types.StoredFile
	for _, f := range s.files {
		if matches(f, filter) {
			out = append(out, copyFile(f))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Count returns the number of files matching the filter.
func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, f := range s.files {
		if matches(f, filter) {
			count++
		}
	}
	return count, nil
}

// UpdateMetadata applies a patch and returns the updated row.
func (s *MemoryStore) UpdateMetadata(ctx context.Context, id string, patch Patch) (*types.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent("catalog.memory")
	}

	if patch.LogicalName != nil {
		f.LogicalName = *patch.LogicalName
	}
	if patch.Folder != nil {
		f.Folder = *patch.Folder
	}
	if patch.Tags != nil {
		raw, err := json.Marshal(patch.Tags)
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidInput, err, "encode tags").
				WithComponent("catalog.memory")
		}
		f.Tags = datatypes.JSON(raw)
	}
	if patch.CustomMetadata != nil {
		jm := make(datatypes.JSONMap, len(patch.CustomMetadata))
		for k, v := range patch.CustomMetadata {
			jm[k] = v
		}
		f.CustomMetadata = jm
	}
	if patch.IsPublic != nil {
		f.IsPublic = *patch.IsPublic
	}
	if patch.ExpiresAt != nil {
		f.ExpiresAt = *patch.ExpiresAt
	}
	f.UpdatedAt = time.Now()
	return copyFile(f), nil
}

// RecordAccess increments the access counter under the store lock.
func (s *MemoryStore) RecordAccess(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent("catalog.memory")
	}
	f.AccessCount++
	t := at
	f.LastAccessedAt = &t
	return nil
}

// UpdatePlacement swaps tier and backend key under the version guard.
func (s *MemoryStore) UpdatePlacement(ctx context.Context, id string, version int64, tier types.TierID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent("catalog.memory")
	}
	if f.Version != version {
		return errors.Newf(errors.KindConsistencyConflict, "file %s changed since version %d", id, version).
			WithComponent("catalog.memory").WithOperation("update_placement")
	}
	f.Tier = tier
	f.BackendKey = key
	f.Version++
	f.UpdatedAt = time.Now()
	return nil
}

// Delete removes the row.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent("catalog.memory")
	}
	delete(s.files, id)
	return nil
}

// UsageByTier aggregates bytes and counts per tier.
func (s *MemoryStore) UsageByTier(ctx context.Context) ([]TierUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTier := make(map[types.TierID]*TierUsage)
	for _, f := range s.files {
		u, ok := byTier[f.Tier]
		if !ok {
			u = &TierUsage{Tier: f.Tier}
			byTier[f.Tier] = u
		}
		u.Bytes += f.SizeBytes
		u.FileCount++
	}

	out := make([]TierUsage, 0, len(byTier))
	for _, u := range byTier {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out, nil
}

// CreateTask inserts a migration task.
func (s *MemoryStore) CreateTask(ctx context.Context, task *types.MigrationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// GetTask returns a task by id.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*types.MigrationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "task %s not found", id).
			WithComponent("catalog.memory")
	}
	return copyTask(t), nil
}

// SetTaskStatus transitions a task's status.
func (s *MemoryStore) SetTaskStatus(ctx context.Context, id string, status types.TaskStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return errors.Newf(errors.KindNotFound, "task %s not found", id).
			WithComponent("catalog.memory")
	}
	t.Status = status
	t.LastError = lastError
	t.UpdatedAt = time.Now()
	return nil
}

// PendingTasks returns up to limit pending tasks, oldest first.
func (s *MemoryStore) PendingTasks(ctx context.Context, limit int) ([]*types.MigrationTask, error) {
	s.mu.RLock()
	var out []*types.MigrationTask
	for _, t := range s.tasks {
		if t.Status == types.TaskPending {
			out = append(out, copyTask(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HasActiveTask reports whether the file has a pending or in-flight task.
func (s *MemoryStore) HasActiveTask(ctx context.Context, fileID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.FileID == fileID && (t.Status == types.TaskPending || t.Status == types.TaskInFlight) {
			return true, nil
		}
	}
	return false, nil
}
