package types

import "time"

// MigrationReason records why the optimizer (or an operator) scheduled a
// migration.
type MigrationReason string

const (
	ReasonAge           MigrationReason = "age"
	ReasonAccessPattern MigrationReason = "access-pattern"
	ReasonManual        MigrationReason = "manual"
)

// TaskStatus is the lifecycle state of a migration task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskInFlight TaskStatus = "in-flight"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
)

// MigrationTask asks the gateway to move one file between tiers. Tasks are
// produced by the lifecycle optimizer and consumed by the gateway's
// migration worker; they are never exposed to end users.
type MigrationTask struct {
	ID         string          `json:"id" gorm:"type:uuid;primaryKey"`
	FileID     string          `json:"file_id" gorm:"type:uuid;not null;index"`
	SourceTier TierID          `json:"source_tier" gorm:"type:varchar(32);not null"`
	DestTier   TierID          `json:"dest_tier" gorm:"type:varchar(32);not null"`
	Reason     MigrationReason `json:"reason" gorm:"type:varchar(32);not null"`
	Status     TaskStatus      `json:"status" gorm:"type:varchar(16);not null;index"`
	LastError  string          `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the migration task table name.
func (MigrationTask) TableName() string { return "migration_tasks" }

// EstimatedMonthlySavings reports the storage spend delta of moving a file
// of the given size from the source profile to the destination profile.
// Positive values mean the move saves money.
func EstimatedMonthlySavings(sizeBytes int64, from, to TierProfile) float64 {
	return from.MonthlyStorageCost(sizeBytes) - to.MonthlyStorageCost(sizeBytes)
}
