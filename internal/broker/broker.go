// Package broker mints presigned upload grants for object storage. It holds
// no session state: every response is a pure function of the request.
package broker

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"atpark/internal/metrics"
	"atpark/internal/storage"
)

const (
	allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowHeaders = "Content-Type, Authorization, X-Requested-With"
	tokenLength  = 13
)

type Config struct {
	Presigner storage.Presigner
	// GrantTTL is how long a write URL stays valid.
	GrantTTL time.Duration
	Logger   *logrus.Logger
	Metrics  *metrics.Broker
	Now      func() time.Time
	Token    func() string
}

// Handler serves the upload broker contract.
type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Token == nil {
		cfg.Token = randomToken
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	router.Any("/", h.serve)
}

type grantRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowMethods)
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		if c.Request.Method == http.MethodOptions {
			c.Writer.Header().Set("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) serve(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	start := time.Now()

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.cfg.Metrics.RecordGrant("bad_request", 0)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.ContentType) == "" {
		h.cfg.Metrics.RecordGrant("bad_request", 0)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing filename or contentType"})
		return
	}

	key := h.newKey(req.Filename)
	logger := h.cfg.Logger.WithFields(logrus.Fields{"key": key, "content_type": req.ContentType})

	grant, err := h.cfg.Presigner.PresignPut(c.Request.Context(), key, req.ContentType, h.cfg.GrantTTL)
	if err != nil {
		logger.Errorf("generate upload url: %v", err)
		h.cfg.Metrics.RecordGrant("error", 0)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.cfg.Metrics.RecordGrant("ok", time.Since(start))
	logger.Info("upload grant issued")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"uploadUrl": grant.UploadURL,
			"publicUrl": grant.PublicURL,
			"key":       grant.Key,
		},
	})
}

// newKey builds "<unixMillis>-<token>-<filename>".
func (h *Handler) newKey(filename string) string {
	return fmt.Sprintf("%d-%s-%s", h.cfg.Now().UnixMilli(), h.cfg.Token(), sanitizeFilename(filename))
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
}

// sanitizeFilename keeps the key a single URL-safe path segment.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
