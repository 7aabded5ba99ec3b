package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/univops/registrar-api/internal/service"
	"github.com/univops/registrar-api/pkg/response"
)

// ExportHandler exposes roster export endpoints.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Roster godoc
// @Summary Export a section roster
// @Tags Exports
// @Produce json
// @Param id path string true "Section ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Router /course-sections/{id}/roster/export [post]
func (h *ExportHandler) Roster(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	result, err := h.exports.ExportRoster(c.Request.Context(), c.Param("id"), format, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download an exported file using a signed token
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	relPath, err := h.exports.OpenDownload(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exports.Open(relPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	stat, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(relPath))
	c.DataFromReader(http.StatusOK, stat.Size(), "application/octet-stream", file, nil)
}
