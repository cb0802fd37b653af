package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		renderError(c, errors.Wrap(errors.KindInvalidInput, err, "multipart field 'file' is required"))
		return
	}

	opts := types.UploadOptions{
		OwnerID:      c.PostForm("owner_id"),
		ProjectID:    c.PostForm("project_id"),
		Folder:       c.PostForm("folder"),
		AccessHint:   types.AccessHint(c.PostForm("access_hint")),
		DeclaredType: c.PostForm("declared_type"),
		IsPublic:     c.PostForm("is_public") == "true",
		Critical:     c.PostForm("critical") == "true",
		Realtime:     c.PostForm("realtime") == "true",
		Temporary:    c.PostForm("temporary") == "true",
	}
	if opts.OwnerID == "" {
		renderError(c, errors.New(errors.KindInvalidInput, "owner_id is required"))
		return
	}
	if tags := c.PostForm("tags"); tags != "" {
		opts.Tags = strings.Split(tags, ",")
	}
	if raw := c.PostForm("custom_metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.CustomMetadata); err != nil {
			renderError(c, errors.Wrap(errors.KindInvalidInput, err, "custom_metadata must be a JSON object"))
			return
		}
	}
	if raw := c.PostForm("expires_at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			renderError(c, errors.Wrap(errors.KindInvalidInput, err, "expires_at must be RFC 3339"))
			return
		}
		opts.ExpiresAt = &at
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	file, err := header.Open()
	if err != nil {
		renderError(c, errors.Wrap(errors.KindInvalidInput, err, "open multipart file"))
		return
	}
	defer file.Close()

	res, err := s.gw.Upload(c.Request.Context(), header.Filename, file, header.Size, mimeType, opts)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleList(c *gin.Context) {
	filter := catalog.Filter{
		OwnerID:   c.Query("owner_id"),
		ProjectID: c.Query("project_id"),
		Folder:    c.Query("folder"),
		Tier:      types.TierID(c.Query("tier")),
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}

	files, total, err := s.gw.List(c.Request.Context(), filter)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"files":  files,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func (s *Server) handleStat(c *gin.Context) {
	file, err := s.gw.Stat(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (s *Server) handleDownload(c *gin.Context) {
	res, err := s.gw.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+res.Metadata.LogicalName+`"`)
	c.Data(http.StatusOK, res.Metadata.MimeType, res.Data)
}

func (s *Server) handleSignedURL(c *gin.Context) {
	var ttl time.Duration
	if raw := c.Query("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			renderError(c, errors.Wrap(errors.KindInvalidInput, err, "ttl must be a duration"))
			return
		}
		ttl = parsed
	}

	url, err := s.gw.SignedURL(c.Request.Context(), c.Param("id"), ttl)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) handlePublicURL(c *gin.Context) {
	url, err := s.gw.PublicURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handlePatch applies a metadata patch. The body is decoded twice: once
// into a key map to reject immutable fields explicitly, then into the typed
// request.
func (s *Server) handlePatch(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, errors.Wrap(errors.KindInvalidInput, err, "read request body"))
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		renderError(c, errors.Wrap(errors.KindInvalidInput, err, "body must be a JSON object"))
		return
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	if err := catalog.RejectImmutable(keys); err != nil {
		renderError(c, err)
		return
	}

	var req struct {
		LogicalName    *string           `json:"logical_name"`
		Folder         *string           `json:"folder"`
		Tags           []string          `json:"tags"`
		CustomMetadata map[string]string `json:"custom_metadata"`
		IsPublic       *bool             `json:"is_public"`
		ExpiresAt      *time.Time        `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		renderError(c, errors.Wrap(errors.KindInvalidInput, err, "decode patch"))
		return
	}

	patch := catalog.Patch{
		LogicalName:    req.LogicalName,
		Folder:         req.Folder,
		Tags:           req.Tags,
		CustomMetadata: req.CustomMetadata,
		IsPublic:       req.IsPublic,
	}
	// expires_at distinguishes absent (untouched) from null (cleared).
	if _, present := raw["expires_at"]; present {
		patch.ExpiresAt = &req.ExpiresAt
	}

	file, err := s.gw.UpdateMetadata(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.gw.Delete(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMigrate(c *gin.Context) {
	var req struct {
		DestTier types.TierID `json:"dest_tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Wrap(errors.KindInvalidInput, err, "decode migration request"))
		return
	}
	if req.DestTier == "" {
		renderError(c, errors.New(errors.KindInvalidInput, "dest_tier is required"))
		return
	}

	if err := s.gw.Migrate(c.Request.Context(), c.Param("id"), req.DestTier, types.ReasonManual); err != nil {
		renderError(c, err)
		return
	}

	file, err := s.gw.Stat(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (s *Server) handleBudget(c *gin.Context) {
	snap, err := s.budget.Cached(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
