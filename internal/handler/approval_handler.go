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

// ApprovalHandler exposes advisor approval workflow endpoints.
type ApprovalHandler struct {
	approvals *service.ApprovalService
}

// NewApprovalHandler constructs ApprovalHandler.
func NewApprovalHandler(approvals *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// List godoc
// @Summary List approval requests
// @Tags Approvals
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param sectionId query string false "Filter by section"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollment-approvals [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	var filter models.ApprovalFilter
	filter.StudentID = c.Query("studentId")
	filter.CourseSectionID = c.Query("sectionId")
	filter.Status = models.ApprovalStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	approvals, pagination, err := h.approvals.List(c.Request.Context(), filter, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approvals, pagination)
}

// Get godoc
// @Summary Get approval request by ID
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval ID"
// @Success 200 {object} response.Envelope
// @Router /enrollment-approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	approval, err := h.approvals.Get(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// Create godoc
// @Summary Request advisor approval for a section
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body service.RequestApprovalRequest true "Approval request payload"
// @Success 201 {object} response.Envelope
// @Router /enrollment-approvals [post]
func (h *ApprovalHandler) Create(c *gin.Context) {
	var req service.RequestApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	approval, err := h.approvals.Request(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, approval)
}

// Approve godoc
// @Summary Approve a pending request
// @Description Approval inside the add/drop window immediately runs registration; a registration failure is reported alongside the approved request.
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param payload body service.DecideApprovalRequest false "Optional notes"
// @Success 200 {object} response.Envelope
// @Router /enrollment-approvals/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	var req service.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	decision, err := h.approvals.Approve(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Deny godoc
// @Summary Deny a pending request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param payload body service.DecideApprovalRequest true "Denial notes"
// @Success 200 {object} response.Envelope
// @Router /enrollment-approvals/{id}/deny [post]
func (h *ApprovalHandler) Deny(c *gin.Context) {
	var req service.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	approval, err := h.approvals.Deny(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}
