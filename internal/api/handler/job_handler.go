package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/e2e-report-worker/internal/api/dto"
	"github.com/cuongbtq/e2e-report-worker/internal/ingress"
	"github.com/cuongbtq/e2e-report-worker/internal/producer"
	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 200
)

// EnqueueJob handles POST /api/v1/jobs/:job_type
// The request body is the job payload
func (h *JobHandler) EnqueueJob(c *gin.Context) {
	jobType, ok := h.jobType(c)
	if !ok {
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		h.logger.Error("Failed to read request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if h.publisher != nil {
		h.publishJob(c, jobType, raw)
		return
	}

	env, err := producer.EnqueueRaw(c.Request.Context(), h.queue, jobType.String(), raw)
	if err != nil {
		h.writeError(c, "Failed to enqueue job", err)
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_type", jobType.String()),
		slog.String("envelope_id", env.ID),
	)

	c.JSON(http.StatusAccepted, dto.EnqueueJobResponse{
		JobType:    jobType.String(),
		EnvelopeID: env.ID,
		Transport:  "redis",
	})
}

// publishJob validates the payload here so producers get a 400 instead of a
// message the ingress consumer will reject
func (h *JobHandler) publishJob(c *gin.Context, jobType domain.JobType, raw []byte) {
	if err := domain.ValidatePayload(jobType, raw); err != nil {
		h.writeError(c, "Invalid job payload", err)
		return
	}

	msg := ingress.Message{JobType: jobType.String(), Payload: raw}
	if err := h.publisher.PublishJSON(c.Request.Context(), msg); err != nil {
		h.logger.Error("Failed to publish job", slog.String("job_type", jobType.String()), slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Failed to publish job"})
		return
	}

	h.logger.Info("Job published", slog.String("job_type", jobType.String()))

	c.JSON(http.StatusAccepted, dto.EnqueueJobResponse{
		JobType:   jobType.String(),
		Transport: "rabbitmq",
	})
}

// ListDeadLetters handles GET /api/v1/dead-letters/:job_type
// Dead letters are listed oldest first and never removed
func (h *JobHandler) ListDeadLetters(c *gin.Context) {
	jobType, ok := h.jobType(c)
	if !ok {
		return
	}

	var req dto.ListDeadLettersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.Offset < 0 {
		req.Offset = 0
	}
	if req.Limit <= 0 {
		req.Limit = defaultDeadLetterLimit
	}
	if req.Limit > maxDeadLetterLimit {
		req.Limit = maxDeadLetterLimit
	}

	// One extra entry tells whether another page exists
	entries, err := h.queue.ListDeadLetters(c.Request.Context(), jobType, req.Offset, req.Limit+1)
	if err != nil {
		h.writeError(c, "Failed to list dead letters", err)
		return
	}

	var next *int
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
		n := req.Offset + req.Limit
		next = &n
	}

	resp := dto.ListDeadLettersResponse{
		DeadLetters: make([]dto.DeadLetterDTO, len(entries)),
		NextOffset:  next,
	}
	for i, entry := range entries {
		resp.DeadLetters[i] = dto.NewDeadLetterDTO(entry)
	}

	c.JSON(http.StatusOK, resp)
}

// GetQueueDepth handles GET /api/v1/queues/:job_type/depth
func (h *JobHandler) GetQueueDepth(c *gin.Context) {
	jobType, ok := h.jobType(c)
	if !ok {
		return
	}

	depth, err := h.queue.Depth(c.Request.Context(), jobType)
	if err != nil {
		h.writeError(c, "Failed to read queue depth", err)
		return
	}

	c.JSON(http.StatusOK, depth)
}

// ListQueueDepths handles GET /api/v1/queues
func (h *JobHandler) ListQueueDepths(c *gin.Context) {
	depths := make([]*queue.Depth, 0, len(domain.JobTypes))
	for _, jt := range domain.JobTypes {
		depth, err := h.queue.Depth(c.Request.Context(), jt)
		if err != nil {
			h.writeError(c, "Failed to read queue depth", err)
			return
		}
		depths = append(depths, depth)
	}

	c.JSON(http.StatusOK, gin.H{"queues": depths})
}

func (h *JobHandler) jobType(c *gin.Context) (domain.JobType, bool) {
	jobType, err := domain.ParseJobType(c.Param("job_type"))
	if err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Unknown job type", Details: err.Error()})
		return "", false
	}
	return jobType, true
}

// writeError maps queue and payload errors to HTTP status codes
func (h *JobHandler) writeError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: message, Details: err.Error()})
	case errors.Is(err, domain.ErrUnknownJobType):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: message, Details: err.Error()})
	case errors.Is(err, queue.ErrQueueUnavailable):
		h.logger.Error(message, slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: message})
	default:
		h.logger.Error(message, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: message})
	}
}
