package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tierstore/tierstore/internal/backend"
	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/internal/policy"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

const component = "gateway"

// Gateway routes objects to tiers and keeps backends and catalog in step.
type Gateway struct {
	store     catalog.Store
	backends  *backend.Registry
	engine    *policy.Engine
	tiers     config.TiersConfig
	cfg       config.GatewayConfig
	collector *metrics.Collector
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a gateway.
func New(store catalog.Store, backends *backend.Registry, engine *policy.Engine,
	tiers config.TiersConfig, cfg config.GatewayConfig,
	collector *metrics.Collector, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:     store,
		backends:  backends,
		engine:    engine,
		tiers:     tiers,
		cfg:       cfg,
		collector: collector,
		logger:    logger.With("component", component),
		now:       time.Now,
	}
}

// backendKey builds a time-partitioned, collision-free key for a new
// object. The original extension is kept so backend-side tooling can make
// sense of the listing.
func (g *Gateway) backendKey(id, originalName string) string {
	now := g.now().UTC()
	ext := strings.ToLower(filepath.Ext(originalName))
	return fmt.Sprintf("%04d/%02d/%s%s", now.Year(), now.Month(), id, ext)
}

// estimateMonthlyCost prices an object in a tier: storage plus one write
// request. Egress is usage-dependent and not part of the upload estimate.
func (g *Gateway) estimateMonthlyCost(tier types.TierID, sizeBytes int64) float64 {
	profile, ok := g.tiers.Profile(tier)
	if !ok {
		return 0
	}
	return profile.MonthlyStorageCost(sizeBytes) + profile.RequestCost
}

// Upload routes the object to a tier, writes it, and commits the catalog
// row. The row is written last: a failure between the two steps leaves a
// harmless orphan object, never a row pointing at nothing.
func (g *Gateway) Upload(ctx context.Context, name string, body io.Reader, sizeBytes int64, mimeType string, opts types.UploadOptions) (*types.UploadResult, error) {
	started := g.now()

	if name == "" {
		return nil, errors.New(errors.KindInvalidInput, "file name is required").
			WithComponent(component).WithOperation("upload")
	}
	if sizeBytes < 0 {
		return nil, errors.New(errors.KindInvalidInput, "size must be non-negative").
			WithComponent(component).WithOperation("upload")
	}
	if g.cfg.MaxUploadBytes > 0 && sizeBytes > g.cfg.MaxUploadBytes {
		return nil, errors.Newf(errors.KindQuotaExceeded, "object of %d bytes exceeds the %d byte upload limit",
			sizeBytes, g.cfg.MaxUploadBytes).
			WithComponent(component).WithOperation("upload")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	decision := g.engine.Decide(opts.RouteInput(sizeBytes, mimeType))
	g.collector.ObserveRoutingDecision(string(decision.Rule), decision.Tier)

	adapter, err := g.backends.ForTier(decision.Tier)
	if err != nil {
		return nil, err
	}

	expiresAt := opts.ExpiresAt
	if expiresAt == nil && opts.Temporary && g.cfg.TemporaryTTL > 0 {
		at := g.now().Add(g.cfg.TemporaryTTL)
		expiresAt = &at
	}

	id := uuid.NewString()
	key := g.backendKey(id, name)

	if err := adapter.Put(ctx, key, body, sizeBytes, mimeType); err != nil {
		g.collector.ObserveOperation("upload", decision.Tier, err, g.now().Sub(started))
		return nil, err
	}

	file := &types.StoredFile{
		ID:           id,
		LogicalName:  name,
		OriginalName: name,
		Tier:         decision.Tier,
		BackendKey:   key,
		SizeBytes:    sizeBytes,
		MimeType:     mimeType,
		OwnerID:      opts.OwnerID,
		ProjectID:    opts.ProjectID,
		Folder:       opts.Folder,
		IsPublic:     opts.IsPublic,
		ExpiresAt:    expiresAt,
		Version:      1,
	}
	if len(opts.Tags) > 0 {
		file.Tags = mustJSON(opts.Tags)
	}
	if len(opts.CustomMetadata) > 0 {
		file.CustomMetadata = toJSONMap(opts.CustomMetadata)
	}

	if err := g.store.Create(ctx, file); err != nil {
		// Compensate: the object must not outlive a failed commit as a
		// reachable upload, remove it and surface the catalog error.
		if delErr := adapter.Delete(ctx, key); delErr != nil {
			g.logger.Error("compensating delete failed, orphan object left behind",
				"tier", decision.Tier, "key", key, "error", delErr)
			g.collector.ObserveOrphan(decision.Tier, "upload_commit")
		}
		g.collector.ObserveOperation("upload", decision.Tier, err, g.now().Sub(started))
		return nil, err
	}

	g.collector.ObserveOperation("upload", decision.Tier, nil, g.now().Sub(started))
	g.collector.AddBytesTransferred("in", decision.Tier, sizeBytes)

	g.logger.Info("uploaded",
		"id", id, "tier", decision.Tier, "rule", decision.Rule,
		"size", sizeBytes, "mime", mimeType)

	return &types.UploadResult{
		ID:                   id,
		Tier:                 decision.Tier,
		EstimatedMonthlyCost: g.estimateMonthlyCost(decision.Tier, sizeBytes),
	}, nil
}

// Download fetches the object bytes and metadata, then records the access.
// Bookkeeping failures are logged, never surfaced.
func (g *Gateway) Download(ctx context.Context, id string) (*types.DownloadResult, error) {
	started := g.now()

	file, err := g.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	adapter, err := g.backends.ForTier(file.Tier)
	if err != nil {
		return nil, err
	}

	rc, err := adapter.Get(ctx, file.BackendKey)
	if err != nil {
		g.collector.ObserveOperation("download", file.Tier, err, g.now().Sub(started))
		if errors.IsKind(err, errors.KindNotFound) {
			// Catalog row without a backend object: the invariant is
			// broken, say so loudly.
			g.logger.Error("catalog row has no backend object",
				"id", id, "tier", file.Tier, "key", file.BackendKey)
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		wrapped := errors.Wrap(errors.KindBackendUnavailable, err, "read object body").
			WithComponent(component).WithOperation("download")
		g.collector.ObserveOperation("download", file.Tier, wrapped, g.now().Sub(started))
		return nil, wrapped
	}

	g.recordAccess(ctx, id)

	g.collector.ObserveOperation("download", file.Tier, nil, g.now().Sub(started))
	g.collector.AddBytesTransferred("out", file.Tier, int64(len(data)))

	return &types.DownloadResult{Data: data, Metadata: file}, nil
}

// SignedURL returns a presigned download URL. TTLs are clipped to the
// configured maximum rather than rejected; a zero TTL gets a one hour
// default. Handing out a URL counts as an access.
func (g *Gateway) SignedURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	started := g.now()

	if ttl < 0 {
		return "", errors.New(errors.KindInvalidInput, "ttl must be non-negative").
			WithComponent(component).WithOperation("sign")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	if ttl > g.cfg.MaxPresignTTL {
		ttl = g.cfg.MaxPresignTTL
	}

	file, err := g.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	profile, ok := g.tiers.Profile(file.Tier)
	if ok && !profile.Capabilities.Presign {
		return "", errors.Newf(errors.KindInvalidInput, "tier %q does not support presigned urls", file.Tier).
			WithComponent(component).WithOperation("sign")
	}

	adapter, err := g.backends.ForTier(file.Tier)
	if err != nil {
		return "", err
	}

	url, err := adapter.Presign(ctx, file.BackendKey, ttl)
	g.collector.ObserveOperation("sign", file.Tier, err, g.now().Sub(started))
	if err != nil {
		return "", err
	}

	g.recordAccess(ctx, id)
	return url, nil
}

// PublicURL returns the stable unauthenticated URL for a public file.
func (g *Gateway) PublicURL(ctx context.Context, id string) (string, error) {
	file, err := g.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !file.IsPublic {
		return "", errors.Newf(errors.KindInvalidInput, "file %s is not public", id).
			WithComponent(component).WithOperation("public_url")
	}

	profile, ok := g.tiers.Profile(file.Tier)
	if ok && !profile.Capabilities.PublicURL {
		return "", errors.Newf(errors.KindInvalidInput, "tier %q has no public url surface", file.Tier).
			WithComponent(component).WithOperation("public_url")
	}

	adapter, err := g.backends.ForTier(file.Tier)
	if err != nil {
		return "", err
	}
	return adapter.PublicURL(file.BackendKey)
}

// Stat returns the catalog metadata without touching the backend or the
// access counters.
func (g *Gateway) Stat(ctx context.Context, id string) (*types.StoredFile, error) {
	return g.store.GetByID(ctx, id)
}

// List returns files matching the filter plus the unpaged total.
func (g *Gateway) List(ctx context.Context, filter catalog.Filter) ([]*types.StoredFile, int64, error) {
	files, err := g.store.Query(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := g.store.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// UpdateMetadata applies a metadata patch.
func (g *Gateway) UpdateMetadata(ctx context.Context, id string, patch catalog.Patch) (*types.StoredFile, error) {
	return g.store.UpdateMetadata(ctx, id, patch)
}

// Delete removes the object first and the catalog row second. If the
// physical delete fails the row stays, so the file remains reachable and
// the delete can be retried.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	started := g.now()

	file, err := g.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	adapter, err := g.backends.ForTier(file.Tier)
	if err != nil {
		return err
	}

	if err := adapter.Delete(ctx, file.BackendKey); err != nil {
		g.collector.ObserveOperation("delete", file.Tier, err, g.now().Sub(started))
		return err
	}

	err = g.store.Delete(ctx, id)
	if err != nil && errors.IsKind(err, errors.KindNotFound) {
		// A concurrent delete won the race; the end state is the same.
		err = nil
	}
	g.collector.ObserveOperation("delete", file.Tier, err, g.now().Sub(started))
	if err != nil {
		return err
	}

	g.logger.Info("deleted", "id", id, "tier", file.Tier, "size", file.SizeBytes)
	return nil
}

// Migrate moves a file to the destination tier. The copy lands first, then
// the placement swaps under the version read at the start; losing the
// version race compensates by removing the copy. The source object delete
// is best effort, a stale source copy is an accepted cost.
func (g *Gateway) Migrate(ctx context.Context, fileID string, dest types.TierID, reason types.MigrationReason) error {
	started := g.now()

	file, err := g.store.GetByID(ctx, fileID)
	if err != nil {
		g.collector.ObserveMigration(reason, err)
		return err
	}
	if file.Tier == dest {
		g.logger.Debug("migration skipped, already placed", "id", fileID, "tier", dest)
		return nil
	}

	source, err := g.backends.ForTier(file.Tier)
	if err != nil {
		g.collector.ObserveMigration(reason, err)
		return err
	}
	target, err := g.backends.ForTier(dest)
	if err != nil {
		g.collector.ObserveMigration(reason, err)
		return err
	}

	rc, err := source.Get(ctx, file.BackendKey)
	if err != nil {
		g.collector.ObserveMigration(reason, err)
		return err
	}

	newKey := g.backendKey(file.ID, file.OriginalName)
	err = target.Put(ctx, newKey, rc, file.SizeBytes, file.MimeType)
	rc.Close()
	if err != nil {
		g.collector.ObserveMigration(reason, err)
		return err
	}

	if err := g.store.UpdatePlacement(ctx, file.ID, file.Version, dest, newKey); err != nil {
		// A concurrent migration or delete won. Remove our copy; the
		// winner's placement stands.
		if delErr := target.Delete(ctx, newKey); delErr != nil {
			g.logger.Warn("cleanup of losing migration copy failed",
				"id", fileID, "tier", dest, "key", newKey, "error", delErr)
		}
		g.collector.ObserveMigration(reason, err)
		return err
	}

	if err := source.Delete(ctx, file.BackendKey); err != nil {
		g.logger.Warn("stale source object left behind after migration",
			"id", fileID, "tier", file.Tier, "key", file.BackendKey, "error", err)
		g.collector.ObserveOrphan(file.Tier, "stale_source")
	}

	g.collector.ObserveMigration(reason, nil)
	g.logger.Info("migrated",
		"id", fileID, "from", file.Tier, "to", dest,
		"reason", reason, "size", file.SizeBytes,
		"duration", g.now().Sub(started))
	return nil
}

// recordAccess bumps the access bookkeeping without letting a failure
// propagate to the read path.
func (g *Gateway) recordAccess(ctx context.Context, id string) {
	if err := g.store.RecordAccess(ctx, id, g.now()); err != nil {
		g.logger.Warn("access bookkeeping failed", "id", id, "error", err)
	}
}
