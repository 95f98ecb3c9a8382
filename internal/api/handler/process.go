package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/logger"
	"github.com/ravel/photoflow/internal/service"
)

// ProcessHandler handles analyzer process endpoints.
type ProcessHandler struct {
	analyzer *service.AnalyzerService
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(analyzer *service.AnalyzerService) *ProcessHandler {
	return &ProcessHandler{analyzer: analyzer}
}

type createProcessRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	PackageID string `json:"package_id" binding:"required"`
	Mode      string `json:"mode"`
}

// CreateProcess handles POST /api/v1/processes. The process is created and
// initialized synchronously; the task run continues in the background.
func (h *ProcessHandler) CreateProcess(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	mode := domain.ProcessMode(req.Mode)
	if req.Mode == "" {
		mode = domain.ModeAdding
	}

	proc, err := h.analyzer.Create(c.Request.Context(), req.UserID, req.PackageID, mode)
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}

	go func() {
		ctx := logger.WithField(context.Background(), logger.FieldProcessID, proc.ID)
		if err := h.analyzer.Run(ctx, proc.ID); err != nil {
			logger.CtxError(ctx, "Background process run failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, proc)
}

// GetProcess handles GET /api/v1/processes/:id.
func (h *ProcessHandler) GetProcess(c *gin.Context) {
	proc, err := h.analyzer.GetProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}
	c.JSON(http.StatusOK, proc)
}

// ListProcesses handles GET /api/v1/processes?user_id=...
func (h *ProcessHandler) ListProcesses(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	procs, err := h.analyzer.ListProcesses(c.Request.Context(), userID)
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": procs, "total": len(procs)})
}

// RetryProcess handles POST /api/v1/processes/:id/retry. The retry run
// executes in the background.
func (h *ProcessHandler) RetryProcess(c *gin.Context) {
	id := c.Param("id")
	proc, err := h.analyzer.GetProcess(c.Request.Context(), id)
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}

	go func() {
		ctx := logger.WithField(context.Background(), logger.FieldProcessID, id)
		if _, err := h.analyzer.Retry(ctx, id); err != nil {
			logger.CtxError(ctx, "Background retry failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, proc)
}

// ReconcileProcess handles POST /api/v1/processes/:id/reconcile.
func (h *ProcessHandler) ReconcileProcess(c *gin.Context) {
	proc, err := h.analyzer.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}
	c.JSON(http.StatusOK, proc)
}

// GetProcessSheet handles GET /api/v1/processes/:id/sheet and returns the
// human-readable sheet dump.
func (h *ProcessHandler) GetProcessSheet(c *gin.Context) {
	proc, err := h.analyzer.GetProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}
	c.String(http.StatusOK, proc.Sheet.Render())
}

// ListPackages handles GET /api/v1/packages.
func (h *ProcessHandler) ListPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.analyzer.Registry().Packages()})
}

func writeAnalyzerError(c *gin.Context, err error) {
	var cfgErr *service.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
