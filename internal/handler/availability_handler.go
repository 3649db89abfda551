package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/service"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
	"github.com/hearthview/tours-api/pkg/response"
)

// AvailabilityHandler manages availability endpoints.
type AvailabilityHandler struct {
	service *service.AvailabilityService
}

// NewAvailabilityHandler constructs handler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// GetDay godoc
// @Summary Resolve an agent's bookable slots for a day
// @Tags Availability
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param date query string true "Day (YYYY-MM-DD, UTC)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /agents/{agentID}/availability [get]
func (h *AvailabilityHandler) GetDay(c *gin.Context) {
	day, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD"))
		return
	}

	availability, err := h.service.ResolveDay(c.Request.Context(), c.Param("agentID"), day)
	if err != nil {
		response.Error(c, err)
		return
	}

	var meta map[string]interface{}
	if availability.Degraded {
		meta = map[string]interface{}{"degraded": true}
	}
	response.JSON(c, http.StatusOK, availability, nil, meta)
}

// ListRecurring godoc
// @Summary List an agent's recurring availability windows
// @Tags Availability
// @Produce json
// @Param agentID path string true "Agent ID"
// @Success 200 {object} response.Envelope
// @Router /agents/{agentID}/availability/recurring [get]
func (h *AvailabilityHandler) ListRecurring(c *gin.Context) {
	rows, err := h.service.ListRecurring(c.Request.Context(), c.Param("agentID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// CreateRecurring godoc
// @Summary Create a recurring availability window
// @Tags Availability
// @Accept json
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param payload body models.CreateRecurringAvailabilityRequest true "Availability payload"
// @Success 201 {object} response.Envelope
// @Router /agents/{agentID}/availability/recurring [post]
func (h *AvailabilityHandler) CreateRecurring(c *gin.Context) {
	var req models.CreateRecurringAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	row, err := h.service.CreateRecurring(c.Request.Context(), c.Param("agentID"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}

// UpdateRecurring godoc
// @Summary Update a recurring availability window
// @Tags Availability
// @Accept json
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param id path string true "Window ID"
// @Param payload body models.UpdateRecurringAvailabilityRequest true "Availability payload"
// @Success 200 {object} response.Envelope
// @Router /agents/{agentID}/availability/recurring/{id} [put]
func (h *AvailabilityHandler) UpdateRecurring(c *gin.Context) {
	var req models.UpdateRecurringAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	row, err := h.service.UpdateRecurring(c.Request.Context(), c.Param("agentID"), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// DeleteRecurring godoc
// @Summary Delete a recurring availability window
// @Tags Availability
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param id path string true "Window ID"
// @Success 204
// @Router /agents/{agentID}/availability/recurring/{id} [delete]
func (h *AvailabilityHandler) DeleteRecurring(c *gin.Context) {
	if err := h.service.DeleteRecurring(c.Request.Context(), c.Param("agentID"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListBlocked godoc
// @Summary List an agent's blocked times
// @Tags Availability
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param from query string false "Window start (YYYY-MM-DD)"
// @Param to query string false "Window end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /agents/{agentID}/blocked-times [get]
func (h *AvailabilityHandler) ListBlocked(c *gin.Context) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now.AddDate(0, 3, 0)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be formatted YYYY-MM-DD"))
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be formatted YYYY-MM-DD"))
			return
		}
		to = parsed
	}

	rows, err := h.service.ListBlocked(c.Request.Context(), c.Param("agentID"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// CreateBlocked godoc
// @Summary Block a window off an agent's calendar
// @Tags Availability
// @Accept json
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param payload body models.CreateBlockedTimeRequest true "Blocked time payload"
// @Success 201 {object} response.Envelope
// @Router /agents/{agentID}/blocked-times [post]
func (h *AvailabilityHandler) CreateBlocked(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateBlockedTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	row, err := h.service.CreateBlocked(c.Request.Context(), c.Param("agentID"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}

// DeleteBlocked godoc
// @Summary Remove a blocked time
// @Tags Availability
// @Produce json
// @Param agentID path string true "Agent ID"
// @Param id path string true "Blocked time ID"
// @Success 204
// @Router /agents/{agentID}/blocked-times/{id} [delete]
func (h *AvailabilityHandler) DeleteBlocked(c *gin.Context) {
	if err := h.service.DeleteBlocked(c.Request.Context(), c.Param("agentID"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
