// Package handlers exposes the task flow over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/auth"
	"github.com/example/hijab-blur/internal/task"
	"github.com/example/hijab-blur/internal/usecase"
)

// MaxUploadSize is the default limit for uploaded images.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// supportedTypes lists the sniffed content types the pipeline can decode.
var supportedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// TaskService is the subset of the use case served over HTTP.
type TaskService interface {
	Submit(ctx context.Context, up usecase.Upload) (string, error)
	GetResult(ctx context.Context, taskID string) (*task.Task, error)
	ReadOutput(ctx context.Context, t *task.Task) ([]byte, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Options configures RegisterRoutes.
type Options struct {
	// MaxUploadBytes defaults to MaxUploadSize.
	MaxUploadBytes int64
	Logger         *zap.Logger
	// Middleware guards the task routes. Nil entries are skipped.
	Middleware []gin.HandlerFunc
}

type handler struct {
	svc       TaskService
	maxUpload int64
	logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc TaskService, opts Options) {
	h := &handler{svc: svc, maxUpload: opts.MaxUploadBytes, logger: opts.Logger}
	if h.maxUpload <= 0 {
		h.maxUpload = MaxUploadSize
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics/summary", h.metricsSummary)

	var guard []gin.HandlerFunc
	for _, m := range opts.Middleware {
		if m != nil {
			guard = append(guard, m)
		}
	}
	tasks := router.Group("/", guard...)
	tasks.POST("/process_image", h.processImage)
	tasks.GET("/get_result/:task_id", h.getResult)
}

func (h *handler) processImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		case errors.Is(err, http.ErrMissingFile) && hasFormValue(c.Request.MultipartForm, "image"):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image file"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		}
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image file"})
		return
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), supportedTypes...) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Unsupported image type: " + mtype.String()})
		return
	}

	clientID, _ := auth.ClientID(c.Request.Context())
	taskID, err := h.svc.Submit(c.Request.Context(), usecase.Upload{
		ClientID: clientID,
		Data:     data,
		Ext:      mtype.Extension(),
	})
	if err != nil {
		if errors.Is(err, usecase.ErrBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": usecase.ErrBusy.Error()})
			return
		}
		h.logger.Error("submit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "status": task.StatusProcessing})
}

func (h *handler) getResult(c *gin.Context) {
	t, err := h.svc.GetResult(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid task ID"})
			return
		}
		h.logger.Error("get result failed", zap.String("task_id", c.Param("task_id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch t.Status {
	case task.StatusProcessing:
		c.JSON(http.StatusAccepted, gin.H{"status": task.StatusProcessing})
	case task.StatusError:
		c.JSON(errorStatus(t.ErrorKind), gin.H{"error": t.Message})
	case task.StatusCompleted:
		data, err := h.svc.ReadOutput(c.Request.Context(), t)
		if err != nil {
			h.logger.Error("read output failed", zap.String("task_id", t.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Output image unavailable"})
			return
		}
		c.Data(http.StatusOK, "image/png", data)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unknown task status"})
	}
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrAuditDisabled) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// errorStatus maps a task failure kind to the poll response code.
func errorStatus(kind task.ErrorKind) int {
	if kind == task.KindNoFaces {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func hasFormValue(form *multipart.Form, key string) bool {
	if form == nil {
		return false
	}
	_, ok := form.Value[key]
	return ok
}
