package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

const component = "catalog.gorm"

// Open connects to Postgres and migrates the catalog schema.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "connect to postgres").
			WithComponent(component)
	}

	if err := db.AutoMigrate(&types.StoredFile{}, &types.MigrationTask{}); err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "migrate catalog schema").
			WithComponent(component)
	}

	logger.Info("catalog database ready", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

// GormStore implements Store and TaskStore on a gorm database handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create inserts a new file row.
func (s *GormStore) Create(ctx context.Context, file *types.StoredFile) error {
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrap(errors.KindConsistencyConflict, err, "file id already exists").
				WithComponent(component).WithDetail("id", file.ID)
		}
		return errors.Wrap(errors.KindInternal, err, "insert file").
			WithComponent(component).WithOperation("create")
	}
	return nil
}

// GetByID returns a file by id.
func (s *GormStore) GetByID(ctx context.Context, id string) (*types.StoredFile, error) {
	var file types.StoredFile
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf(errors.KindNotFound, "file %s not found", id).
				WithComponent(component)
		}
		return nil, errors.Wrap(errors.KindInternal, err, "load file").
			WithComponent(component).WithOperation("get")
	}
	return &file, nil
}

// Query returns files matching the filter, newest first.
func (s *GormStore) Query(ctx context.Context, filter Filter) ([]*types.StoredFile, error) {
	q := applyFilter(s.db.WithContext(ctx).Model(&types.StoredFile{}), filter).
		Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var files []*types.StoredFile
	if err := q.Find(&files).Error; err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "query files").
			WithComponent(component).WithOperation("query")
	}
	return files, nil
}

// Count returns the number of files matching the filter.
func (s *GormStore) Count(ctx context.Context, filter Filter) (int64, error) {
	var count int64
	err := applyFilter(s.db.WithContext(ctx).Model(&types.StoredFile{}), filter).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(errors.KindInternal, err, "count files").
			WithComponent(component).WithOperation("count")
	}
	return count, nil
}

func applyFilter(q *gorm.DB, filter Filter) *gorm.DB {
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.ProjectID != "" {
		q = q.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Folder != "" {
		q = q.Where("folder = ?", filter.Folder)
	}
	if filter.Tier != "" {
		q = q.Where("tier = ?", filter.Tier)
	}
	if filter.MimePrefix != "" {
		q = q.Where("mime_type LIKE ?", filter.MimePrefix+"%")
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.LastAccessedBefore != nil {
		q = q.Where("last_accessed_at IS NULL OR last_accessed_at < ?", *filter.LastAccessedBefore)
	}
	if filter.ExpiredAsOf != nil {
		q = q.Where("expires_at IS NOT NULL AND expires_at < ?", *filter.ExpiredAsOf)
	}
	return q
}

// UpdateMetadata applies a patch and returns the updated row.
func (s *GormStore) UpdateMetadata(ctx context.Context, id string, patch Patch) (*types.StoredFile, error) {
	if patch.IsEmpty() {
		return s.GetByID(ctx, id)
	}

	updates := map[string]interface{}{}
	if patch.LogicalName != nil {
		updates["logical_name"] = *patch.LogicalName
	}
	if patch.Folder != nil {
		updates["folder"] = *patch.Folder
	}
	if patch.Tags != nil {
		raw, err := json.Marshal(patch.Tags)
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidInput, err, "encode tags").
				WithComponent(component)
		}
		updates["tags"] = datatypes.JSON(raw)
	}
	if patch.CustomMetadata != nil {
		jm := make(datatypes.JSONMap, len(patch.CustomMetadata))
		for k, v := range patch.CustomMetadata {
			jm[k] = v
		}
		updates["custom_metadata"] = jm
	}
	if patch.IsPublic != nil {
		updates["is_public"] = *patch.IsPublic
	}
	if patch.ExpiresAt != nil {
		updates["expires_at"] = *patch.ExpiresAt
	}

	res := s.db.WithContext(ctx).Model(&types.StoredFile{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, errors.Wrap(errors.KindInternal, res.Error, "update metadata").
			WithComponent(component).WithOperation("update_metadata")
	}
	if res.RowsAffected == 0 {
		return nil, errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent(component)
	}
	return s.GetByID(ctx, id)
}

// RecordAccess atomically increments the access counter in the database.
func (s *GormStore) RecordAccess(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&types.StoredFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": at,
		})
	if res.Error != nil {
		return errors.Wrap(errors.KindInternal, res.Error, "record access").
			WithComponent(component).WithOperation("record_access")
	}
	if res.RowsAffected == 0 {
		return errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent(component)
	}
	return nil
}

// UpdatePlacement swaps tier and backend key under the optimistic version
// guard. The WHERE clause carries the version the caller read; zero affected
// rows means either a concurrent writer won or the row is gone.
func (s *GormStore) UpdatePlacement(ctx context.Context, id string, version int64, tier types.TierID, key string) error {
	res := s.db.WithContext(ctx).Model(&types.StoredFile{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"tier":        tier,
			"backend_key": key,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return errors.Wrap(errors.KindInternal, res.Error, "update placement").
			WithComponent(component).WithOperation("update_placement")
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return errors.Newf(errors.KindConsistencyConflict, "file %s changed since version %d", id, version).
			WithComponent(component).WithOperation("update_placement")
	}
	return nil
}

// Delete removes the row.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&types.StoredFile{})
	if res.Error != nil {
		return errors.Wrap(errors.KindInternal, res.Error, "delete file").
			WithComponent(component).WithOperation("delete")
	}
	if res.RowsAffected == 0 {
		return errors.Newf(errors.KindNotFound, "file %s not found", id).
			WithComponent(component)
	}
	return nil
}

// UsageByTier aggregates bytes and counts per tier.
func (s *GormStore) UsageByTier(ctx context.Context) ([]TierUsage, error) {
	var usage []TierUsage
	err := s.db.WithContext(ctx).Model(&types.StoredFile{}).
		Select("tier, COALESCE(SUM(size_bytes), 0) AS bytes, COUNT(*) AS file_count").
		Group("tier").
		Scan(&usage).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "aggregate usage").
			WithComponent(component).WithOperation("usage_by_tier")
	}
	return usage, nil
}

// CreateTask inserts a migration task.
func (s *GormStore) CreateTask(ctx context.Context, task *types.MigrationTask) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return errors.Wrap(errors.KindInternal, err, "insert migration task").
			WithComponent(component).WithOperation("create_task")
	}
	return nil
}

// GetTask returns a task by id.
func (s *GormStore) GetTask(ctx context.Context, id string) (*types.MigrationTask, error) {
	var task types.MigrationTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf(errors.KindNotFound, "task %s not found", id).
				WithComponent(component)
		}
		return nil, errors.Wrap(errors.KindInternal, err, "load task").
			WithComponent(component).WithOperation("get_task")
	}
	return &task, nil
}

// SetTaskStatus transitions a task's status.
func (s *GormStore) SetTaskStatus(ctx context.Context, id string, status types.TaskStatus, lastError string) error {
	res := s.db.WithContext(ctx).Model(&types.MigrationTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
		})
	if res.Error != nil {
		return errors.Wrap(errors.KindInternal, res.Error, "update task status").
			WithComponent(component).WithOperation("set_task_status")
	}
	if res.RowsAffected == 0 {
		return errors.Newf(errors.KindNotFound, "task %s not found", id).
			WithComponent(component)
	}
	return nil
}

// PendingTasks returns up to limit pending tasks, oldest first.
func (s *GormStore) PendingTasks(ctx context.Context, limit int) ([]*types.MigrationTask, error) {
	var tasks []*types.MigrationTask
	q := s.db.WithContext(ctx).
		Where("status = ?", types.TaskPending).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "load pending tasks").
			WithComponent(component).WithOperation("pending_tasks")
	}
	return tasks, nil
}

// HasActiveTask reports whether the file has a pending or in-flight task.
func (s *GormStore) HasActiveTask(ctx context.Context, fileID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.MigrationTask{}).
		Where("file_id = ? AND status IN ?", fileID, []types.TaskStatus{types.TaskPending, types.TaskInFlight}).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(errors.KindInternal, err, "check active tasks").
			WithComponent(component).WithOperation("has_active_task")
	}
	return count > 0, nil
}
