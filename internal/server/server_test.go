package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/internal/backend"
	"github.com/tierstore/tierstore/internal/budget"
	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/gateway"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/internal/policy"
	"github.com/tierstore/tierstore/pkg/types"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()

	cfg := config.NewDefault()
	store := catalog.NewMemoryStore()
	fast := backend.NewMemoryAdapter(types.TierFast)
	bulk := backend.NewMemoryAdapter(types.TierBulk)
	engine := policy.NewEngine(cfg.Routing, cfg.Tiers.DefaultTier)
	collector := metrics.NewCollector()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gw := gateway.New(store, backend.NewRegistry(fast, bulk), engine,
		cfg.Tiers, cfg.Gateway, collector, logger)
	monitor := budget.New(store, cfg.Tiers, cfg.Budget, nil, collector, logger)

	return New(gw, monitor, cfg.Global, logger).Router()
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doUpload(t *testing.T, r *gin.Engine, fields map[string]string, filename string, content []byte) types.UploadResult {
	t.Helper()
	body, contentType := multipartUpload(t, fields, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res types.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestUploadEndpoint(t *testing.T) {
	r := newRouter(t)

	res := doUpload(t, r, map[string]string{
		"owner_id": "alice",
		"tags":     "report,q3",
	}, "report.txt", []byte("numbers"))

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, types.TierFast, res.Tier)
	assert.Greater(t, res.EstimatedMonthlyCost, 0.0)
}

func TestUploadEndpoint_RequiresOwner(t *testing.T) {
	r := newRouter(t)

	body, contentType := multipartUpload(t, nil, "f.txt", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner_id")
}

func TestDownloadEndpoint(t *testing.T) {
	r := newRouter(t)
	res := doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.txt", []byte("payload"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+res.ID+"/download", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "f.txt")
}

func TestStatEndpoint_NotFound(t *testing.T) {
	r := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/missing-id", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["kind"])
}

func TestListEndpoint(t *testing.T) {
	r := newRouter(t)
	doUpload(t, r, map[string]string{"owner_id": "alice"}, "a.txt", []byte("x"))
	doUpload(t, r, map[string]string{"owner_id": "alice"}, "b.txt", []byte("x"))
	doUpload(t, r, map[string]string{"owner_id": "bob"}, "c.txt", []byte("x"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files?owner_id=alice&limit=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Files []types.StoredFile `json:"files"`
		Total int64              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Files, 1)
	assert.Equal(t, int64(2), body.Total)
}

func TestPatchEndpoint(t *testing.T) {
	r := newRouter(t)
	res := doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.txt", []byte("x"))

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/files/"+res.ID,
		strings.NewReader(`{"logical_name":"renamed.txt","is_public":true}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var file types.StoredFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, "renamed.txt", file.LogicalName)
	assert.True(t, file.IsPublic)
}

func TestPatchEndpoint_RejectsImmutableFields(t *testing.T) {
	r := newRouter(t)
	res := doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.txt", []byte("x"))

	for _, body := range []string{
		`{"size_bytes":1}`,
		`{"id":"other"}`,
		`{"tier":"bulk"}`,
		`{"created_at":"2020-01-01T00:00:00Z"}`,
	} {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/files/"+res.ID, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "immutable", body)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	r := newRouter(t)
	res := doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.txt", []byte("x"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+res.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+res.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignedURLEndpoint(t *testing.T) {
	r := newRouter(t)
	res := doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.txt", []byte("x"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+res.ID+"/url?ttl=30m", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["url"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+res.ID+"/url?ttl=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicURLEndpoint(t *testing.T) {
	r := newRouter(t)
	public := doUpload(t, r, map[string]string{"owner_id": "alice", "is_public": "true"}, "p.txt", []byte("x"))
	private := doUpload(t, r, map[string]string{"owner_id": "alice"}, "q.txt", []byte("x"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+public.ID+"/public-url", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+private.ID+"/public-url", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMigrateEndpoint(t *testing.T) {
	r := newRouter(t)
	res := doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.bin", []byte("cold"))
	require.Equal(t, types.TierFast, res.Tier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/"+res.ID+"/migrate",
		strings.NewReader(`{"dest_tier":"bulk"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var file types.StoredFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, types.TierBulk, file.Tier)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/"+res.ID+"/migrate",
		strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBudgetEndpoint(t *testing.T) {
	r := newRouter(t)
	doUpload(t, r, map[string]string{"owner_id": "alice"}, "f.txt", []byte("x"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/budget", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap types.BudgetSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, types.BudgetOptimal, snap.Status)
	assert.Equal(t, 50.0, snap.MonthlyBudget)
}

func TestHealthEndpoint(t *testing.T) {
	r := newRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
