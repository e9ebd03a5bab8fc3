package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yanqian/polyglot-score/internal/domain/score"
	apperrors "github.com/yanqian/polyglot-score/pkg/errors"
)

// BatchIDHeader carries the id under which a scored batch was stored.
const BatchIDHeader = "X-Score-Batch-ID"

// Handler wires the HTTP transport to the scoring service.
type Handler struct {
	scoreSvc score.Service
	logger   *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(scoreSvc score.Service, logger *slog.Logger) *Handler {
	return &Handler{
		scoreSvc: scoreSvc,
		logger:   logger.With("component", "http.handler"),
	}
}

// Score runs one batch of interview answers through the model.
func (h *Handler) Score(c *gin.Context) {
	var req score.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	if claims, ok := getClaims(c); ok {
		h.logger.Info("score requested", "subject", claims.Subject, "interviews", len(req.Interviews))
	}

	resp, err := h.scoreSvc.ScoreUserAnswer(c.Request.Context(), req.Interviews...)
	if err != nil {
		abortWithError(c, scoreError(err))
		return
	}

	if resp.BatchID != uuid.Nil {
		c.Header(BatchIDHeader, resp.BatchID.String())
	}
	c.JSON(http.StatusOK, resp)
}

// GetBatch returns a previously scored batch.
func (h *Handler) GetBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "batch id must be a uuid", err))
		return
	}
	batch, err := h.scoreSvc.Batch(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, scoreError(err))
		return
	}
	c.JSON(http.StatusOK, batch)
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func scoreError(err error) *HTTPError {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case "invalid_input":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "download_error", "model_load_error":
		status = http.StatusServiceUnavailable
	case "scoring_error":
		status = http.StatusBadGateway
	case "":
		code = "internal_error"
	}
	return NewHTTPError(status, code, errMessage(err), err)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
