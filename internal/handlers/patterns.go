package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/rulelearn/internal/learning"
	apperrors "github.com/yungbote/rulelearn/internal/pkg/errors"
)

type PatternHandler struct {
	svc *learning.Service
}

func NewPatternHandler(svc *learning.Service) *PatternHandler {
	return &PatternHandler{svc: svc}
}

type matchRequest struct {
	RuleText  string  `json:"rule_text" binding:"required"`
	FieldName string  `json:"field_name"`
	Threshold float64 `json:"threshold"`
}

// Match returns a cache hit or an explicit miss. A store outage is surfaced
// as 503 so the caller can fall back to interpreting fresh instead of
// treating the rule as never seen.
func (h *PatternHandler) Match(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.svc.FindMatch(c.Request.Context(), req.RuleText, req.FieldName, req.Threshold)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type saveRequest struct {
	RuleText         string                 `json:"rule_text" binding:"required"`
	FieldName        string                 `json:"field_name"`
	RuleType         string                 `json:"rule_type" binding:"required"`
	Parameters       map[string]interface{} `json:"parameters"`
	ErrorMessage     string                 `json:"error_message"`
	Source           string                 `json:"source"`
	SourceConfidence *float64               `json:"source_confidence"`
	ConfidenceBoost  float64                `json:"confidence_boost"`
}

func (h *PatternHandler) Save(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.svc.SavePattern(c.Request.Context(), learning.SaveInput{
		RuleText:         req.RuleText,
		FieldName:        req.FieldName,
		RuleType:         req.RuleType,
		Parameters:       req.Parameters,
		ErrorMessage:     req.ErrorMessage,
		Source:           req.Source,
		SourceConfidence: req.SourceConfidence,
		ConfidenceBoost:  req.ConfidenceBoost,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pattern_id": id})
}

type outcomeRequest struct {
	ErrorCount int64 `json:"error_count"`
	TotalRows  int64 `json:"total_rows" binding:"required"`
}

func (h *PatternHandler) Outcome(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pattern id"})
		return
	}
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RecordOutcome(c.Request.Context(), id, req.ErrorCount, req.TotalRows); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus applies a manual lifecycle action, e.g. reactivating a retired
// pattern or blacklisting a bad one.
func (h *PatternHandler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pattern id"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SetPatternStatus(c.Request.Context(), id, req.Status); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (h *PatternHandler) RunMaintenance(c *gin.Context) {
	summary, err := h.svc.RunMaintenance(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "pattern not found"})
	case errors.Is(err, apperrors.ErrInvalidPattern), errors.Is(err, apperrors.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
