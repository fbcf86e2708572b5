package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"atpark/internal/auth"
	"atpark/internal/domain"
	"atpark/internal/feed"
	"atpark/internal/publisher"
	"atpark/internal/service"
)

// Feed is the feed controller as the API drives it.
type Feed interface {
	Snapshot() feed.Snapshot
	Refresh(ctx context.Context) (feed.Snapshot, error)
	LoadMore(ctx context.Context) (feed.Snapshot, bool, error)
	Reset()
}

// Handler wires HTTP routes to the auth controller, the feed and the photo service.
type Handler struct {
	auth      *auth.Controller
	feed      Feed
	photos    service.PhotoService
	metrics   http.Handler
	logger    *logrus.Logger
	maxUpload int64
}

func NewHandler(authCtl *auth.Controller, photoFeed Feed, photos service.PhotoService, metrics http.Handler, logger *logrus.Logger, maxUpload int64) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	return &Handler{
		auth:      authCtl,
		feed:      photoFeed,
		photos:    photos,
		metrics:   metrics,
		logger:    logger,
		maxUpload: maxUpload,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/auth/login", h.login)
		api.POST("/auth/logout", h.logout)
		api.GET("/auth/me", h.me)
		api.POST("/auth/profile/refresh", h.refreshProfile)
	}

	gated := api.Group("", h.requireAuth())
	{
		gated.GET("/photos", h.listPhotos)
		gated.POST("/photos/more", h.loadMore)
		gated.POST("/photos", h.publish)
		gated.POST("/photos/retag", h.retag)
		gated.POST("/shares", h.share)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requireAuth closes every photo route unless the auth controller has
// resolved to an authenticated user.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.auth.Authenticated() {
			fail(c, domain.ErrNotAuthenticated)
			c.Abort()
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewValidationError("Invalid JSON body"))
		return
	}

	view, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	// the feed belongs to whoever was signed in before
	h.feed.Reset()
	ok(c, http.StatusOK, authToResponse(view))
}

func (h *Handler) logout(c *gin.Context) {
	view := h.auth.Logout(c.Request.Context())
	h.feed.Reset()
	ok(c, http.StatusOK, authToResponse(view))
}

func (h *Handler) me(c *gin.Context) {
	ok(c, http.StatusOK, authToResponse(h.auth.View()))
}

func (h *Handler) refreshProfile(c *gin.Context) {
	view, err := h.auth.RefreshProfile(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, authToResponse(view))
}

// listPhotos returns the held feed, fetching the first page when nothing
// has been loaded yet or when ?refresh is set.
func (h *Handler) listPhotos(c *gin.Context) {
	snap := h.feed.Snapshot()
	if c.Query("refresh") != "" || snap.State == feed.StateIdle {
		var err error
		snap, err = h.feed.Refresh(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
	}
	ok(c, http.StatusOK, feedToResponse(snap))
}

func (h *Handler) loadMore(c *gin.Context) {
	snap, issued, err := h.feed.LoadMore(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	resp := feedToResponse(snap)
	resp.Fetched = &issued
	ok(c, http.StatusOK, resp)
}

func (h *Handler) publish(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, domain.NewValidationError(fmt.Sprintf("File is larger than %d bytes", h.maxUpload)))
			return
		}
		fail(c, domain.NewValidationError("Please select a photo to upload"))
		return
	}

	logger := h.logger.WithField("file", fh.Filename)
	file := publisher.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}

	rec, err := h.photos.Publish(c.Request.Context(), service.PublishInput{
		File:        file,
		Tags:        splitTags(c.PostFormArray("tags")),
		Location:    c.PostForm("location"),
		Visibility:  c.PostForm("visibility"),
		Description: c.PostForm("description"),
		Progress: func(percent int) {
			logger.Debugf("upload progress %d%%", percent)
		},
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, photoToResponse(rec))
}

type retagRequest struct {
	URI  string   `json:"uri"`
	Tags []string `json:"tags"`
}

func (h *Handler) retag(c *gin.Context) {
	var req retagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewValidationError("Invalid JSON body"))
		return
	}
	rec, err := h.photos.Retag(c.Request.Context(), req.URI, req.Tags)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, photoToResponse(rec))
}

type shareRequest struct {
	PhotoURI   string   `json:"photoUri"`
	SharedWith []string `json:"sharedWith"`
	ExpiresAt  string   `json:"expiresAt"`
}

func (h *Handler) share(c *gin.Context) {
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewValidationError("Invalid JSON body"))
		return
	}
	if _, err := h.photos.Share(c.Request.Context(), domain.Share{
		PhotoURI:   req.PhotoURI,
		SharedWith: req.SharedWith,
		ExpiresAt:  req.ExpiresAt,
	}); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, nil)
}

// splitTags accepts repeated tags fields as well as one comma separated field.
func splitTags(raw []string) []string {
	var tags []string
	for _, field := range raw {
		tags = append(tags, strings.Split(field, ",")...)
	}
	return domain.NormalizeTags(tags)
}
