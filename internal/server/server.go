package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tierstore/tierstore/internal/budget"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/gateway"
	"github.com/tierstore/tierstore/pkg/errors"
)

// Server wires the HTTP API.
type Server struct {
	gw     *gateway.Gateway
	budget *budget.Monitor
	cfg    config.GlobalConfig
	logger *slog.Logger
}

// New creates the HTTP server layer.
func New(gw *gateway.Gateway, monitor *budget.Monitor, cfg config.GlobalConfig, logger *slog.Logger) *Server {
	return &Server{
		gw:     gw,
		budget: monitor,
		cfg:    cfg,
		logger: logger.With("component", "server"),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLog())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/files", s.handleUpload)
		v1.GET("/files", s.handleList)
		v1.GET("/files/:id", s.handleStat)
		v1.GET("/files/:id/download", s.handleDownload)
		v1.GET("/files/:id/url", s.handleSignedURL)
		v1.GET("/files/:id/public-url", s.handlePublicURL)
		v1.PATCH("/files/:id", s.handlePatch)
		v1.DELETE("/files/:id", s.handleDelete)
		v1.POST("/files/:id/migrate", s.handleMigrate)

		v1.GET("/budget", s.handleBudget)
	}

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	origins := strings.Split(s.cfg.CORSOrigins, ",")
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(started))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderError maps structured errors onto HTTP responses. Unknown errors
// become opaque 500s so internals never leak to callers.
func renderError(c *gin.Context, err error) {
	var se *errors.StorageError
	if errors.As(err, &se) {
		c.JSON(se.HTTPStatus(), gin.H{
			"error": se.Message,
			"kind":  string(se.Kind),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "internal error",
		"kind":  string(errors.KindInternal),
	})
}
