package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ravel/photoflow/internal/service"
)

// PhotoHandler handles photo inspection endpoints.
type PhotoHandler struct {
	analyzer *service.AnalyzerService
}

// NewPhotoHandler creates a new photo handler.
func NewPhotoHandler(analyzer *service.AnalyzerService) *PhotoHandler {
	return &PhotoHandler{analyzer: analyzer}
}

// PhotoHealth handles GET /api/v1/photos/:id/health. A deleted photo still
// returns 200 with an unhealthy report, mirroring how the analyzer treats
// it during retry targeting.
func (h *PhotoHandler) PhotoHealth(c *gin.Context) {
	report, err := h.analyzer.PhotoHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAnalyzerError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
