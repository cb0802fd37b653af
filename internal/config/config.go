package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tierstore/tierstore/pkg/types"
)

// Configuration represents the complete tierstore configuration.
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Tiers     TiersConfig     `yaml:"tiers"`
	Routing   RoutingConfig   `yaml:"routing"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Budget    BudgetConfig    `yaml:"budget"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Broker    BrokerConfig    `yaml:"broker"`
	FastTier  MinioConfig     `yaml:"fast_tier"`
	BulkTier  S3Config        `yaml:"bulk_tier"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
	CORSOrigins string `yaml:"cors_origins"`
}

// TiersConfig carries the cost/latency profile of every configured tier
// plus the tier the routing default rule falls back to.
type TiersConfig struct {
	Profiles    []types.TierProfile `yaml:"profiles"`
	DefaultTier types.TierID        `yaml:"default_tier"`
}

// Profile returns the profile for a tier id, if configured.
func (t TiersConfig) Profile(id types.TierID) (types.TierProfile, bool) {
	for _, p := range t.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return types.TierProfile{}, false
}

// RoutingConfig holds the tunable parameters of the routing policy engine.
// Rule ordering is fixed in code; only thresholds and class lists are
// configurable.
type RoutingConfig struct {
	SmallFileCeiling   int64    `yaml:"small_file_ceiling"`
	LargeFileThreshold int64    `yaml:"large_file_threshold"`
	BulkPreferredMime  []string `yaml:"bulk_preferred_mime"`
	FastDeclaredTypes  []string `yaml:"fast_declared_types"`
}

// GatewayConfig bounds the gateway's interaction with backends and callers.
type GatewayConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxPresignTTL  time.Duration `yaml:"max_presign_ttl"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`

	// TemporaryTTL is the expiry applied to uploads marked temporary when
	// the caller gives no explicit expiry of their own.
	TemporaryTTL time.Duration `yaml:"temporary_ttl"`
}

// OptimizerConfig drives the lifecycle optimizer's schedule, scan, and
// tiering thresholds. The age bands are part of the cost/threshold regime,
// so profiles can tune them without touching code.
type OptimizerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	PageSize      int           `yaml:"page_size"`
	MinSavingsUSD float64       `yaml:"min_savings_usd"`
	SweepExpired  bool          `yaml:"sweep_expired"`

	// ColdMinAge is the minimum age before a fast-tier file can be
	// considered for demotion.
	ColdMinAge time.Duration `yaml:"cold_min_age"`

	// ColdIdleWindow is how long a file must go unread to count as cold.
	ColdIdleWindow time.Duration `yaml:"cold_idle_window"`

	// ArchiveMinAge is the age past which a cold demotion is taken even
	// below the savings floor.
	ArchiveMinAge time.Duration `yaml:"archive_min_age"`

	// HotAccessWindow bounds how recent the last read must be for a
	// bulk-tier file to count as hot.
	HotAccessWindow time.Duration `yaml:"hot_access_window"`

	// HotMinAccesses is the access count a bulk-tier file needs before a
	// promotion is considered.
	HotMinAccesses int64 `yaml:"hot_min_accesses"`
}

// BudgetConfig drives the budget monitor.
type BudgetConfig struct {
	MonthlyBudgetUSD float64       `yaml:"monthly_budget_usd"`
	Interval         time.Duration `yaml:"interval"`
	SnapshotTTL      time.Duration `yaml:"snapshot_ttl"`
}

// DatabaseConfig holds the Postgres connection settings for the catalog.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN assembles the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.Username, d.Password, d.Database, d.Port, d.SSLMode)
}

// RedisConfig holds the cache connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

// Addr returns the host:port address.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// BrokerConfig holds the RabbitMQ connection settings for the migration
// task queue.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// URL assembles the AMQP connection URL.
func (b BrokerConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", b.Username, b.Password, b.Host, b.Port)
}

// MinioConfig configures the fast tier's MinIO backend.
type MinioConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// S3Config configures the bulk tier's S3 backend. Endpoint is optional and
// supports S3-compatible stores.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// NewDefault returns a configuration with sensible defaults: a two-tier
// layout with published list prices, latency-first routing thresholds, and
// a daily optimizer.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			HTTPPort:    8080,
			MetricsPort: 9090,
			CORSOrigins: "*",
		},
		Tiers: TiersConfig{
			Profiles: []types.TierProfile{
				{
					ID:               types.TierFast,
					StorageCostPerGB: 0.023,
					EgressCostPerGB:  0.09,
					RequestCost:      0.0000004,
					Latency:          types.LatencyFast,
					Capabilities:     types.Capabilities{Presign: true, PublicURL: true},
				},
				{
					ID:               types.TierBulk,
					StorageCostPerGB: 0.004,
					EgressCostPerGB:  0.01,
					RequestCost:      0.000001,
					Latency:          types.LatencySlow,
					Capabilities:     types.Capabilities{Presign: true},
				},
			},
			DefaultTier: types.TierFast,
		},
		Routing: RoutingConfig{
			SmallFileCeiling:   1 * 1024 * 1024,   // 1 MB
			LargeFileThreshold: 100 * 1024 * 1024, // 100 MB
			BulkPreferredMime: []string{
				"video/", "audio/",
				"application/zip", "application/gzip",
				"application/x-tar", "application/x-7z-compressed",
			},
			FastDeclaredTypes: []string{"thumbnail", "profile", "avatar"},
		},
		Gateway: GatewayConfig{
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxPresignTTL:  7 * 24 * time.Hour,
			MaxUploadBytes: 5 * 1024 * 1024 * 1024,
			TemporaryTTL:   24 * time.Hour,
		},
		Optimizer: OptimizerConfig{
			Enabled:         true,
			Interval:        24 * time.Hour,
			PageSize:        500,
			MinSavingsUSD:   0.0001,
			SweepExpired:    true,
			ColdMinAge:      30 * 24 * time.Hour,
			ColdIdleWindow:  7 * 24 * time.Hour,
			ArchiveMinAge:   90 * 24 * time.Hour,
			HotAccessWindow: 24 * time.Hour,
			HotMinAccesses:  10,
		},
		Budget: BudgetConfig{
			MonthlyBudgetUSD: 50,
			Interval:         time.Hour,
			SnapshotTTL:      2 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			Database: "tierstore",
			Username: "tierstore",
			Password: "tierstore",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Broker: BrokerConfig{
			Host:     "localhost",
			Port:     "5672",
			Username: "guest",
			Password: "guest",
		},
		FastTier: MinioConfig{
			Endpoint: "localhost:9000",
			Bucket:   "tierstore-fast",
		},
		BulkTier: S3Config{
			Region: "us-east-1",
			Bucket: "tierstore-bulk",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("TIERSTORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("TIERSTORE_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HTTPPort = port
		}
	}
	if val := os.Getenv("TIERSTORE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	if val := os.Getenv("TIERSTORE_LARGE_FILE_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Routing.LargeFileThreshold = threshold
		}
	}
	if val := os.Getenv("TIERSTORE_SMALL_FILE_CEILING"); val != "" {
		if ceiling, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Routing.SmallFileCeiling = ceiling
		}
	}
	if val := os.Getenv("TIERSTORE_MONTHLY_BUDGET_USD"); val != "" {
		if budget, err := strconv.ParseFloat(val, 64); err == nil {
			c.Budget.MonthlyBudgetUSD = budget
		}
	}
	if val := os.Getenv("TIERSTORE_OPTIMIZER_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.Optimizer.Interval = interval
		}
	}

	// Postgres
	if val := os.Getenv("TIERSTORE_PG_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("TIERSTORE_PG_PORT"); val != "" {
		c.Database.Port = val
	}
	if val := os.Getenv("TIERSTORE_PG_DB"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("TIERSTORE_PG_USER"); val != "" {
		c.Database.Username = val
	}
	if val := os.Getenv("TIERSTORE_PG_PASSWORD"); val != "" {
		c.Database.Password = val
	}

	// Redis
	if val := os.Getenv("TIERSTORE_REDIS_HOST"); val != "" {
		c.Redis.Host = val
	}
	if val := os.Getenv("TIERSTORE_REDIS_PORT"); val != "" {
		c.Redis.Port = val
	}
	if val := os.Getenv("TIERSTORE_REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("TIERSTORE_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Redis.Database = db
		}
	}

	// RabbitMQ
	if val := os.Getenv("TIERSTORE_AMQP_HOST"); val != "" {
		c.Broker.Host = val
	}
	if val := os.Getenv("TIERSTORE_AMQP_PORT"); val != "" {
		c.Broker.Port = val
	}
	if val := os.Getenv("TIERSTORE_AMQP_USER"); val != "" {
		c.Broker.Username = val
	}
	if val := os.Getenv("TIERSTORE_AMQP_PASSWORD"); val != "" {
		c.Broker.Password = val
	}

	// Fast tier (MinIO)
	if val := os.Getenv("TIERSTORE_MINIO_ENDPOINT"); val != "" {
		c.FastTier.Endpoint = val
	}
	if val := os.Getenv("TIERSTORE_MINIO_ACCESS_KEY"); val != "" {
		c.FastTier.AccessKey = val
	}
	if val := os.Getenv("TIERSTORE_MINIO_SECRET_KEY"); val != "" {
		c.FastTier.SecretKey = val
	}
	if val := os.Getenv("TIERSTORE_MINIO_BUCKET"); val != "" {
		c.FastTier.Bucket = val
	}
	if val := os.Getenv("TIERSTORE_MINIO_USE_SSL"); val != "" {
		c.FastTier.UseSSL = strings.ToLower(val) == "true"
	}

	// Bulk tier (S3)
	if val := os.Getenv("TIERSTORE_S3_REGION"); val != "" {
		c.BulkTier.Region = val
	}
	if val := os.Getenv("TIERSTORE_S3_ENDPOINT"); val != "" {
		c.BulkTier.Endpoint = val
	}
	if val := os.Getenv("TIERSTORE_S3_BUCKET"); val != "" {
		c.BulkTier.Bucket = val
	}
	if val := os.Getenv("TIERSTORE_S3_ACCESS_KEY_ID"); val != "" {
		c.BulkTier.AccessKeyID = val
	}
	if val := os.Getenv("TIERSTORE_S3_SECRET_ACCESS_KEY"); val != "" {
		c.BulkTier.SecretAccessKey = val
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if len(c.Tiers.Profiles) == 0 {
		return fmt.Errorf("at least one tier profile is required")
	}
	if _, ok := c.Tiers.Profile(c.Tiers.DefaultTier); !ok {
		return fmt.Errorf("default_tier %q has no profile", c.Tiers.DefaultTier)
	}
	for _, p := range c.Tiers.Profiles {
		if p.StorageCostPerGB < 0 || p.EgressCostPerGB < 0 || p.RequestCost < 0 {
			return fmt.Errorf("tier %q has negative cost figures", p.ID)
		}
	}

	if c.Routing.SmallFileCeiling <= 0 {
		return fmt.Errorf("small_file_ceiling must be greater than 0")
	}
	if c.Routing.LargeFileThreshold <= c.Routing.SmallFileCeiling {
		return fmt.Errorf("large_file_threshold must be greater than small_file_ceiling")
	}

	if c.Gateway.MaxPresignTTL <= 0 {
		return fmt.Errorf("max_presign_ttl must be greater than 0")
	}
	if c.Gateway.RequestTimeout <= 0 || c.Gateway.ConnectTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be greater than 0")
	}

	if c.Optimizer.PageSize <= 0 {
		return fmt.Errorf("optimizer page_size must be greater than 0")
	}
	if c.Optimizer.Enabled {
		if c.Optimizer.ColdMinAge <= 0 || c.Optimizer.ColdIdleWindow <= 0 ||
			c.Optimizer.HotAccessWindow <= 0 || c.Optimizer.HotMinAccesses <= 0 {
			return fmt.Errorf("optimizer thresholds must be greater than 0")
		}
		if c.Optimizer.ArchiveMinAge < c.Optimizer.ColdMinAge {
			return fmt.Errorf("archive_min_age cannot be below cold_min_age")
		}
	}
	if c.Budget.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("monthly_budget_usd cannot be negative")
	}

	if c.Global.HTTPPort == c.Global.MetricsPort {
		return fmt.Errorf("http_port and metrics_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
