package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/database"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/summarizer"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

const (
	defaultFrameInterval = 2
	defaultSearchLimit   = 10
)

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".flv":  true,
	".wmv":  true,
}

// videoService is the part of summarizer.Service the handlers use
type videoService interface {
	ProcessFile(ctx context.Context, req summarizer.LocalRequest) (*models.Video, error)
	ProcessURL(ctx context.Context, req summarizer.URLRequest) (*models.Video, error)
	SubmitRemote(ctx context.Context, req summarizer.RemoteSubmit) (*models.Video, *models.RemoteJob, error)
	SubmitRemoteFile(ctx context.Context, localPath string, req summarizer.RemoteSubmit) (*models.Video, *models.RemoteJob, error)
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, int, error)
	GetSummaries(ctx context.Context, videoID string, skip, limit int) ([]*models.Summary, int, error)
	SearchSummaries(ctx context.Context, videoID, query string, limit int) ([]*models.SummarySearchResult, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// API holds the handler dependencies
type API struct {
	service     videoService
	checks      map[string]HealthCheck
	uploadDir   string
	maxUploadMB int64
	logger      *logging.Logger
}

// NewAPI creates the HTTP handlers
func NewAPI(service videoService, checks map[string]HealthCheck, uploadDir string, maxUploadMB int64, logger *logging.Logger) *API {
	if logger == nil {
		logger = logging.Nop()
	}
	return &API{
		service:     service,
		checks:      checks,
		uploadDir:   uploadDir,
		maxUploadMB: maxUploadMB,
		logger:      logger.WithComponent("api"),
	}
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(api.checks))
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	body := gin.H{"status": "healthy", "checks": results}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

// Upload video endpoint. The file is described synchronously.
func (api *API) uploadVideo(c *gin.Context) {
	maxBytes := api.maxUploadMB << 20
	// Leave room for the multipart envelope around the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)

	interval, err := queryInt(c, "frame_interval", defaultFrameInterval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	localPath, filename, ok := api.saveUpload(c, maxBytes)
	if !ok {
		return
	}
	defer os.Remove(localPath)

	video, err := api.service.ProcessFile(c.Request.Context(), summarizer.LocalRequest{
		Path:      localPath,
		SourceURL: filename,
		Title:     optionalString(c.Query("title")),
		Interval:  interval,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, video)
}

type processURLRequest struct {
	VideoURL      string  `json:"video_url" binding:"required"`
	Title         *string `json:"title"`
	FrameInterval *int    `json:"frame_interval"`
}

// Process a video reachable by URL
func (api *API) processURL(c *gin.Context) {
	var req processURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interval := defaultFrameInterval
	if req.FrameInterval != nil {
		interval = *req.FrameInterval
	}

	video, err := api.service.ProcessURL(c.Request.Context(), summarizer.URLRequest{
		URL:      req.VideoURL,
		Title:    req.Title,
		Interval: interval,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, video)
}

type remoteRequest struct {
	Bucket        string  `json:"bucket"`
	ObjectKey     string  `json:"object_key" binding:"required"`
	Title         *string `json:"title"`
	FrameInterval *int    `json:"frame_interval"`
	BatchSize     int     `json:"batch_size"`
	ModelID       string  `json:"model_id"`
}

// Queue a video for a GPU worker. Accepts either a JSON reference to a
// stored object or a multipart upload that is stored first.
func (api *API) submitRemote(c *gin.Context) {
	if c.ContentType() == "multipart/form-data" {
		api.submitRemoteUpload(c)
		return
	}

	var req remoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interval := defaultFrameInterval
	if req.FrameInterval != nil {
		interval = *req.FrameInterval
	}

	video, job, err := api.service.SubmitRemote(c.Request.Context(), summarizer.RemoteSubmit{
		Bucket:    req.Bucket,
		ObjectKey: req.ObjectKey,
		Title:     req.Title,
		Interval:  interval,
		BatchSize: req.BatchSize,
		ModelID:   req.ModelID,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"video": video, "job_id": job.ID})
}

func (api *API) submitRemoteUpload(c *gin.Context) {
	maxBytes := api.maxUploadMB << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)

	interval, err := queryInt(c, "frame_interval", defaultFrameInterval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	batchSize, err := queryInt(c, "batch_size", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	localPath, _, ok := api.saveUpload(c, maxBytes)
	if !ok {
		return
	}
	defer os.Remove(localPath)

	video, job, err := api.service.SubmitRemoteFile(c.Request.Context(), localPath, summarizer.RemoteSubmit{
		Bucket:    c.Query("bucket"),
		Title:     optionalString(c.Query("title")),
		Interval:  interval,
		BatchSize: batchSize,
		ModelID:   c.Query("model_id"),
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"video": video, "job_id": job.ID})
}

// saveUpload validates the multipart "video" field and writes it to the
// upload dir. On failure the response has already been written.
func (api *API) saveUpload(c *gin.Context, maxBytes int64) (string, string, bool) {
	file, err := c.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large. Maximum size is %dMB", api.maxUploadMB)})
			return "", "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return "", "", false
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported file type %q", ext)})
		return "", "", false
	}
	if file.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large. Maximum size is %dMB", api.maxUploadMB)})
		return "", "", false
	}

	if err := os.MkdirAll(api.uploadDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return "", "", false
	}
	localPath := filepath.Join(api.uploadDir, uuid.New().String()+ext)
	if err := c.SaveUploadedFile(file, localPath); err != nil {
		api.logger.WithError(err).Error("Failed to save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return "", "", false
	}

	return localPath, file.Filename, true
}

// Get video endpoint
func (api *API) getVideo(c *gin.Context) {
	video, err := api.service.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, video)
}

// List videos endpoint
func (api *API) listVideos(c *gin.Context) {
	limit, err := queryInt(c, "limit", database.DefaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	videos, total, err := api.service.ListVideos(c.Request.Context(), limit, offset)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"total":  total,
		"limit":  database.ClampLimit(limit, database.DefaultPageSize),
		"offset": offset,
	})
}

// Get a page of a video's summaries
func (api *API) getSummaries(c *gin.Context) {
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit", database.MaxPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summaries, total, err := api.service.GetSummaries(c.Request.Context(), c.Param("id"), skip, limit)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summaries": summaries,
		"total":     total,
		"skip":      skip,
		"limit":     database.ClampLimit(limit, database.MaxPageSize),
	})
}

// Similar-frame search over a video's summaries
func (api *API) searchSummaries(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultSearchLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := api.service.SearchSummaries(c.Request.Context(), c.Param("id"), c.Query("q"), limit)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// respondError maps service errors onto HTTP status codes
func (api *API) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidInterval), errors.Is(err, summarizer.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sampler.ErrSourceUnreadable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, summarizer.ErrDownload), errors.Is(err, storage.ErrStorage):
		status = http.StatusBadGateway
	case errors.Is(err, summarizer.ErrSearchDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		api.logger.WithField("path", c.Request.URL.Path).WithError(err).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
