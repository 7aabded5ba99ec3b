package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/internal/service"
	appErrors "github.com/univops/registrar-api/pkg/errors"
	"github.com/univops/registrar-api/pkg/response"
)

// CourseSectionHandler exposes section catalog endpoints.
type CourseSectionHandler struct {
	sections *service.CourseSectionService
}

// NewCourseSectionHandler constructs CourseSectionHandler.
func NewCourseSectionHandler(sections *service.CourseSectionService) *CourseSectionHandler {
	return &CourseSectionHandler{sections: sections}
}

// List godoc
// @Summary List course sections
// @Tags Sections
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param termId query string false "Filter by term"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /course-sections [get]
func (h *CourseSectionHandler) List(c *gin.Context) {
	var filter models.CourseSectionFilter
	filter.CourseID = c.Query("courseId")
	filter.TermID = c.Query("termId")
	filter.Status = models.SectionStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	sections, pagination, err := h.sections.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// Get godoc
// @Summary Get section by ID
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /course-sections/{id} [get]
func (h *CourseSectionHandler) Get(c *gin.Context) {
	section, err := h.sections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Availability godoc
// @Summary Get derived seating availability for a section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /course-sections/{id}/availability [get]
func (h *CourseSectionHandler) Availability(c *gin.Context) {
	availability, err := h.sections.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}

// Create godoc
// @Summary Schedule a new section
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body service.CreateSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /course-sections [post]
func (h *CourseSectionHandler) Create(c *gin.Context) {
	var req service.CreateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.sections.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// UpdateStatus godoc
// @Summary Change a section's operational status
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body service.UpdateSectionStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /course-sections/{id}/status [put]
func (h *CourseSectionHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateSectionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.sections.UpdateStatus(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}
