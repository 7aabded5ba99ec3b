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

// StudentHandler exposes student record endpoints.
type StudentHandler struct {
	students      *service.StudentService
	notifications *service.NotificationService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students *service.StudentService, notifications *service.NotificationService) *StudentHandler {
	return &StudentHandler{students: students, notifications: notifications}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name, number or email"
// @Param classStanding query string false "Filter by class standing"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = c.Query("search")
	filter.ClassStanding = models.ClassStanding(strings.ToUpper(c.Query("classStanding")))
	filter.AdvisorID = c.Query("advisorId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student by ID
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Register a student record
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// UpdateAdvisory godoc
// @Summary Update a student's advisor approval requirement
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateAdvisoryRequest true "Advisory payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/advisory [put]
func (h *StudentHandler) UpdateAdvisory(c *gin.Context) {
	var req service.UpdateAdvisoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.UpdateAdvisory(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Notifications godoc
// @Summary List a student's recent notifications
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/notifications [get]
func (h *StudentHandler) Notifications(c *gin.Context) {
	actor := actorFromContext(c)
	studentID := c.Param("id")
	if actor.Role == models.RoleStudent && actor.StudentID != studentID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	notifications, err := h.notifications.ListByStudent(c.Request.Context(), studentID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}
