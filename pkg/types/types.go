package types

import (
	"time"

	"gorm.io/datatypes"
)

// TierID identifies a storage tier. The system ships with two active tiers
// but the type is open so additional tiers can be configured.
type TierID string

const (
	// TierFast is the low-latency tier for small, critical, or frequently
	// accessed objects.
	TierFast TierID = "fast"

	// TierBulk is the cost-efficient tier for large or rarely accessed
	// objects.
	TierBulk TierID = "bulk"
)

// String returns the tier identifier as a plain string.
func (t TierID) String() string { return string(t) }

// LatencyClass categorizes the expected round-trip latency of a tier.
type LatencyClass string

const (
	LatencyFast LatencyClass = "fast"
	LatencySlow LatencyClass = "slow"
)

// Capabilities describes optional operations a tier's backend supports.
type Capabilities struct {
	Presign   bool `yaml:"presign" json:"presign"`
	PublicURL bool `yaml:"public_url" json:"public_url"`
}

// TierProfile carries the cost and latency characteristics of a tier.
// Profiles are loaded from configuration and immutable afterwards; no file
// owns a profile, it is shared reference data for routing and cost
// estimation.
type TierProfile struct {
	ID                TierID       `yaml:"id" json:"id"`
	StorageCostPerGB  float64      `yaml:"storage_cost_per_gb" json:"storage_cost_per_gb"`
	EgressCostPerGB   float64      `yaml:"egress_cost_per_gb" json:"egress_cost_per_gb"`
	RequestCost       float64      `yaml:"request_cost" json:"request_cost"`
	Latency           LatencyClass `yaml:"latency" json:"latency"`
	Capabilities      Capabilities `yaml:"capabilities" json:"capabilities"`
}

// MonthlyStorageCost estimates the monthly storage spend in USD for an
// object of the given size stored in this tier. This is an estimation model
// built from static per-GB constants; it is not expected to reconcile with
// a provider invoice.
func (p TierProfile) MonthlyStorageCost(sizeBytes int64) float64 {
	return float64(sizeBytes) / 1e9 * p.StorageCostPerGB
}

// Locator identifies where an object physically lives: the tier plus the
// backend-scoped key. Both parts are opaque to callers.
type Locator struct {
	Tier TierID `json:"tier"`
	Key  string `json:"key"`
}

// AccessHint is a caller-supplied expectation of how often an object will
// be read.
type AccessHint string

const (
	AccessFrequent   AccessHint = "frequent"
	AccessNormal     AccessHint = "normal"
	AccessInfrequent AccessHint = "infrequent"
)

// RouteInput is the attribute set the policy engine decides on. The flag
// fields are the closed set of recognized metadata keys; anything else a
// caller supplies travels in StoredFile.CustomMetadata untouched.
type RouteInput struct {
	SizeBytes    int64
	MimeType     string
	AccessHint   AccessHint
	Critical     bool
	Realtime     bool
	Temporary    bool
	DeclaredType string
}

// StoredFile is the catalog row for a logical file. A row exists if and
// only if the backend object at (Tier, BackendKey) exists; the gateway owns
// the protocol that keeps the two in step.
type StoredFile struct {
	ID             string            `json:"id" gorm:"type:uuid;primaryKey"`
	LogicalName    string            `json:"logical_name" gorm:"type:varchar(512);not null;index"`
	OriginalName   string            `json:"original_name" gorm:"type:varchar(512);not null"`
	Tier           TierID            `json:"tier" gorm:"type:varchar(32);not null;index"`
	BackendKey     string            `json:"backend_key" gorm:"type:varchar(1024);not null"`
	SizeBytes      int64             `json:"size_bytes" gorm:"not null"`
	MimeType       string            `json:"mime_type" gorm:"type:varchar(255)"`
	OwnerID        string            `json:"owner_id" gorm:"type:varchar(64);index"`
	ProjectID      string            `json:"project_id,omitempty" gorm:"type:varchar(64);index"`
	Folder         string            `json:"folder,omitempty" gorm:"type:varchar(1024);index"`
	Tags           datatypes.JSON    `json:"tags,omitempty" gorm:"type:jsonb"`
	CustomMetadata datatypes.JSONMap `json:"custom_metadata,omitempty" gorm:"type:jsonb"`
	IsPublic       bool              `json:"is_public" gorm:"not null;default:false"`
	AccessCount    int64             `json:"access_count" gorm:"not null;default:0"`

	// Version guards the tier/backend-key swap during migration. Every
	// placement update must carry the version it read; a mismatch means a
	// concurrent migration or delete won.
	Version int64 `json:"-" gorm:"not null;default:1"`

	CreatedAt      time.Time  `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" gorm:"index"`
}

// TableName sets the catalog table name.
func (StoredFile) TableName() string { return "stored_files" }

// Locator returns the file's current physical location.
func (f *StoredFile) Locator() Locator {
	return Locator{Tier: f.Tier, Key: f.BackendKey}
}

// Age reports how long the file has existed relative to now.
func (f *StoredFile) Age(now time.Time) time.Duration {
	return now.Sub(f.CreatedAt)
}

// Expired reports whether the file carries an expiry that has passed.
func (f *StoredFile) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && now.After(*f.ExpiresAt)
}

// UploadOptions carries the caller-controlled attributes of an upload.
type UploadOptions struct {
	OwnerID        string            `json:"owner_id"`
	ProjectID      string            `json:"project_id,omitempty"`
	Folder         string            `json:"folder,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
	IsPublic       bool              `json:"is_public"`
	AccessHint     AccessHint        `json:"access_hint,omitempty"`
	Critical       bool              `json:"critical,omitempty"`
	Realtime       bool              `json:"realtime,omitempty"`
	Temporary      bool              `json:"temporary,omitempty"`
	DeclaredType   string            `json:"declared_type,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
}

// RouteInput maps the upload options onto the policy engine's input.
func (o UploadOptions) RouteInput(sizeBytes int64, mimeType string) RouteInput {
	return RouteInput{
		SizeBytes:    sizeBytes,
		MimeType:     mimeType,
		AccessHint:   o.AccessHint,
		Critical:     o.Critical,
		Realtime:     o.Realtime,
		Temporary:    o.Temporary,
		DeclaredType: o.DeclaredType,
	}
}

// UploadResult is returned by the gateway on a successful upload.
type UploadResult struct {
	ID                   string  `json:"id"`
	Tier                 TierID  `json:"tier"`
	EstimatedMonthlyCost float64 `json:"estimated_monthly_cost"`
}

// DownloadResult pairs the object bytes with their catalog metadata.
type DownloadResult struct {
	Data     []byte      `json:"-"`
	Metadata *StoredFile `json:"metadata"`
}
