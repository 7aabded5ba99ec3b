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

// TimeTicketHandler exposes registration window endpoints.
type TimeTicketHandler struct {
	tickets *service.TimeTicketService
}

// NewTimeTicketHandler constructs TimeTicketHandler.
func NewTimeTicketHandler(tickets *service.TimeTicketService) *TimeTicketHandler {
	return &TimeTicketHandler{tickets: tickets}
}

// My godoc
// @Summary Get the caller's registration time ticket
// @Tags TimeTickets
// @Produce json
// @Param termId query string false "Term ID, defaults to the current term"
// @Success 200 {object} response.Envelope
// @Router /registration-time-tickets/my [get]
func (h *TimeTicketHandler) My(c *gin.Context) {
	status, err := h.tickets.MyTicket(c.Request.Context(), c.Query("termId"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// List godoc
// @Summary List time tickets
// @Tags TimeTickets
// @Produce json
// @Param termId query string false "Filter by term"
// @Param priorityGroup query string false "Filter by priority group"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /registration-time-tickets [get]
func (h *TimeTicketHandler) List(c *gin.Context) {
	var filter models.TimeTicketFilter
	filter.TermID = c.Query("termId")
	filter.PriorityGroup = models.ClassStanding(strings.ToUpper(c.Query("priorityGroup")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	tickets, pagination, err := h.tickets.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tickets, pagination)
}

// BulkAssign godoc
// @Summary Assign a registration window to an entire priority group
// @Tags TimeTickets
// @Accept json
// @Produce json
// @Param payload body service.BulkAssignTicketsRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /registration-time-tickets/bulk-assign [post]
func (h *TimeTicketHandler) BulkAssign(c *gin.Context) {
	var req service.BulkAssignTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.tickets.BulkAssign(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
