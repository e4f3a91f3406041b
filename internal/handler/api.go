package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"feedback-service/internal/curation"
	"feedback-service/internal/dataset"
	"feedback-service/internal/imagestore"
	"feedback-service/internal/models"
	"feedback-service/internal/repository"
	"feedback-service/internal/service"
	"feedback-service/internal/vision"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	feedback  *service.FeedbackService
	curator   *curation.Curator
	assembler *dataset.Assembler
	ranker    *vision.Ranker
	exportDir string
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	feedback *service.FeedbackService,
	curator *curation.Curator,
	assembler *dataset.Assembler,
	ranker *vision.Ranker,
	exportDir string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		feedback:  feedback,
		curator:   curator,
		assembler: assembler,
		ranker:    ranker,
		exportDir: exportDir,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Identification
		api.POST("/identify", h.Identify)

		// Feedback lifecycle
		api.POST("/feedback", h.SubmitFeedback)
		api.GET("/feedback", h.QueryFeedback)
		api.GET("/feedback/stats", h.GetStats)
		api.GET("/feedback/:id", h.GetFeedback)
		api.PUT("/feedback/:id/status", h.UpdateStatus)

		// Dataset export
		api.POST("/dataset/export", h.ExportDataset)
		api.GET("/dataset/jobs/:id", h.GetExportJob)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
}

// Identify runs the classifier on an uploaded image and returns ranked
// candidates. Degraded (simulated) results are flagged, never hidden.
func (h *Handler) Identify(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(file)
	if err != nil || len(imageBytes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}

	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		topK, err = strconv.Atoi(raw)
		if err != nil || topK < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid top_k"})
			return
		}
	}

	result := h.ranker.Identify(c.Request.Context(), imageBytes, topK)

	c.JSON(http.StatusOK, gin.H{
		"matches":    result.Matches,
		"simulated":  result.Simulated,
		"image_hash": imagestore.Hash(imageBytes),
	})
}

// SubmitFeedback ingests one feedback record.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	var sub models.FeedbackSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var imageBytes []byte
	if sub.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(sub.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image_base64"})
			return
		}
		imageBytes = decoded
	}

	fb, err := h.feedback.Submit(sub, imageBytes)
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
			return
		}
		h.logger.Error("Failed to submit feedback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit feedback"})
		return
	}

	c.JSON(http.StatusCreated, fb)
}

// GetFeedback returns one record by id.
func (h *Handler) GetFeedback(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback id"})
		return
	}

	fb, err := h.feedback.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feedback not found"})
			return
		}
		h.logger.Error("Failed to get feedback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get feedback"})
		return
	}

	c.JSON(http.StatusOK, fb)
}

// QueryFeedback returns a filtered, paginated page plus the total match
// count.
func (h *Handler) QueryFeedback(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feedbacks, total, err := h.feedback.List(q)
	if err != nil {
		h.logger.Error("Failed to query feedbacks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query feedbacks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feedbacks": feedbacks,
		"total":     total,
		"limit":     q.Limit,
		"offset":    q.Offset,
	})
}

func parseQuery(c *gin.Context) (models.FeedbackQuery, error) {
	var q models.FeedbackQuery

	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseFeedbackStatus(raw)
		if err != nil {
			return q, err
		}
		q.Status = &status
	}
	if raw := c.Query("feedback_type"); raw != "" {
		ft, err := models.ParseFeedbackType(raw)
		if err != nil {
			return q, err
		}
		q.FeedbackType = &ft
	}
	q.PlantID = c.Query("plant_id")

	for name, dst := range map[string]**int{"min_rating": &q.MinRating, "max_rating": &q.MaxRating} {
		if raw := c.Query(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return q, &models.ValidationError{Field: name, Reason: "must be an integer"}
			}
			*dst = &v
		}
	}
	for name, dst := range map[string]**time.Time{"start_date": &q.StartDate, "end_date": &q.EndDate} {
		if raw := c.Query(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return q, &models.ValidationError{Field: name, Reason: "must be RFC3339"}
			}
			*dst = &t
		}
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if raw := c.Query(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return q, &models.ValidationError{Field: name, Reason: "must be an integer"}
			}
			*dst = v
		}
	}
	return q, nil
}

// UpdateStatus applies a curation transition.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback id"})
		return
	}

	var req struct {
		Status       string `json:"status" binding:"required"`
		CuratorNotes string `json:"curator_notes"`
		CuratedBy    string `json:"curated_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fb, err := h.curator.SetStatus(id, req.Status, req.CuratorNotes, req.CuratedBy)
	if err != nil {
		var vErr *models.ValidationError
		var tErr *curation.TransitionError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
		case errors.As(err, &tErr):
			c.JSON(http.StatusConflict, gin.H{"error": tErr.Error()})
		case curation.IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": "feedback not found"})
		default:
			h.logger.Error("Failed to update feedback status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		}
		return
	}

	c.JSON(http.StatusOK, fb)
}

// GetStats returns aggregate feedback metrics.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.feedback.Stats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportDataset starts an async dataset export job.
func (h *Handler) ExportDataset(c *gin.Context) {
	var req struct {
		MinConfidence    float64 `json:"min_confidence"`
		OnlyApproved     *bool   `json:"only_approved"`
		CorrectionWeight float64 `json:"correction_weight"`
		MarkUsed         bool    `json:"mark_used"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	onlyApproved := true
	if req.OnlyApproved != nil {
		onlyApproved = *req.OnlyApproved
	}

	jobID, err := h.assembler.Export(h.exportDir, dataset.ExportOptions{
		Options: dataset.Options{
			MinConfidence:    req.MinConfidence,
			OnlyApproved:     onlyApproved,
			CorrectionWeight: req.CorrectionWeight,
		},
		MarkUsed: req.MarkUsed,
	})
	if err != nil {
		h.logger.Error("Failed to start export job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start export job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"status":  "pending",
		"message": "Dataset export started. Check /api/v1/dataset/jobs/" + jobID + " for status",
	})
}

// GetExportJob returns export job status.
func (h *Handler) GetExportJob(c *gin.Context) {
	job, err := h.assembler.JobStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// HealthCheck reports service health. The service stays available with
// an absent classifier; the vision status is informational.
func (h *Handler) HealthCheck(c *gin.Context) {
	visionStatus := "fallback"
	if h.ranker.Ready() {
		visionStatus = "ready"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"services": gin.H{
			"vision": visionStatus,
		},
	})
}
