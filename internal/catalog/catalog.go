package catalog

import (
	"context"
	"time"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

// Filter narrows catalog queries. Zero-valued fields are ignored. Results
// are ordered newest-first by creation time.
type Filter struct {
	OwnerID            string
	ProjectID          string
	Folder             string
	Tier               types.TierID
	MimePrefix         string
	CreatedBefore      *time.Time
	LastAccessedBefore *time.Time
	ExpiredAsOf        *time.Time
	Limit              int
	Offset             int
}

// Patch carries the mutable metadata fields of a file. Nil fields are left
// untouched. Identity, placement, and size fields are deliberately not
// representable here; placement changes go through UpdatePlacement.
type Patch struct {
	LogicalName    *string
	Folder         *string
	Tags           []string
	CustomMetadata map[string]string
	IsPublic       *bool
	ExpiresAt      **time.Time
}

// immutableKeys are request fields a metadata patch must never touch.
var immutableKeys = map[string]struct{}{
	"id":          {},
	"size_bytes":  {},
	"created_at":  {},
	"tier":        {},
	"backend_key": {},
	"owner_id":    {},
	"version":     {},
}

// RejectImmutable returns an error if any of the given patch keys names an
// immutable field. The HTTP layer calls this on the raw request body so
// callers get a 400 instead of a silently ignored field.
func RejectImmutable(keys []string) error {
	for _, k := range keys {
		if _, ok := immutableKeys[k]; ok {
			return errors.Newf(errors.KindInvalidInput, "field %q is immutable", k).
				WithComponent("catalog")
		}
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.LogicalName == nil && p.Folder == nil && p.Tags == nil &&
		p.CustomMetadata == nil && p.IsPublic == nil && p.ExpiresAt == nil
}

// TierUsage aggregates the catalog's footprint in one tier.
type TierUsage struct {
	Tier      types.TierID `json:"tier"`
	Bytes     int64        `json:"bytes"`
	FileCount int64        `json:"file_count"`
}

// Store is the metadata catalog contract.
type Store interface {
	// Create inserts a new file row.
	Create(ctx context.Context, file *types.StoredFile) error

	// GetByID returns a file by id, or KindNotFound.
	GetByID(ctx context.Context, id string) (*types.StoredFile, error)

	// Query returns files matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*types.StoredFile, error)

	// Count returns the number of files matching the filter, ignoring
	// Limit and Offset.
	Count(ctx context.Context, filter Filter) (int64, error)

	// UpdateMetadata applies a patch and returns the updated row.
	UpdateMetadata(ctx context.Context, id string, patch Patch) (*types.StoredFile, error)

	// RecordAccess atomically increments the access counter and stamps the
	// access time.
	RecordAccess(ctx context.Context, id string, at time.Time) error

	// UpdatePlacement swaps the file's tier and backend key, guarded by
	// the version read beforehand. A version mismatch returns
	// KindConsistencyConflict and leaves the row untouched.
	UpdatePlacement(ctx context.Context, id string, version int64, tier types.TierID, key string) error

	// Delete removes the row. Deleting a missing row returns KindNotFound.
	Delete(ctx context.Context, id string) error

	// UsageByTier aggregates bytes and file counts per tier.
	UsageByTier(ctx context.Context) ([]TierUsage, error)
}

// TaskStore persists migration tasks.
type TaskStore interface {
	// CreateTask inserts a task.
	CreateTask(ctx context.Context, task *types.MigrationTask) error

	// GetTask returns a task by id, or KindNotFound.
	GetTask(ctx context.Context, id string) (*types.MigrationTask, error)

	// SetTaskStatus transitions a task's status, recording the error
	// message on failures.
	SetTaskStatus(ctx context.Context, id string, status types.TaskStatus, lastError string) error

	// PendingTasks returns up to limit tasks in pending state, oldest
	// first.
	PendingTasks(ctx context.Context, limit int) ([]*types.MigrationTask, error)

	// HasActiveTask reports whether the file already has a pending or
	// in-flight task, so the optimizer does not double-schedule.
	HasActiveTask(ctx context.Context, fileID string) (bool, error)
}
