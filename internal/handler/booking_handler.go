package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/service"
	"github.com/hearthview/tours-api/internal/timeslot"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
	"github.com/hearthview/tours-api/pkg/response"
)

// BookingHandler manages tour booking endpoints.
type BookingHandler struct {
	service *service.BookingService
}

// NewBookingHandler constructs handler.
func NewBookingHandler(svc *service.BookingService) *BookingHandler {
	return &BookingHandler{service: svc}
}

// Create godoc
// @Summary Request a tour
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body models.RequestTourRequest true "Tour request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.RequestTourRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	booking, err := h.service.RequestTour(c.Request.Context(), *claims, req)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	response.Created(c, booking)
}

// Get godoc
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	booking, err := h.service.GetBooking(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// List godoc
// @Summary List bookings visible to the caller
// @Tags Bookings
// @Produce json
// @Param status query string false "Comma-separated statuses"
// @Param propertyId query string false "Filter by property"
// @Param from query string false "Overlap window start (RFC3339)"
// @Param to query string false "Overlap window end (RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.BookingFilter
	filter.PropertyID = c.Query("propertyId")
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Status = append(filter.Status, models.BookingStatus(strings.TrimSpace(s)))
		}
	}
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339"))
			return
		}
		filter.From = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339"))
			return
		}
		filter.To = &parsed
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}

	bookings, total, err := h.service.ListBookings(c.Request.Context(), *claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, bookings, pagination)
}

// Transition godoc
// @Summary Move a booking through its state machine
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body models.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bookings/{id}/transition [post]
func (h *BookingHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	booking, err := h.service.Transition(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Participants godoc
// @Summary List the participants of a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/participants [get]
func (h *BookingHandler) Participants(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	participants, err := h.service.ListParticipants(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, participants, nil)
}

// Check godoc
// @Summary Check whether an interval is bookable
// @Tags Bookings
// @Produce json
// @Param agentId query string true "Agent ID"
// @Param start query string true "Interval start (RFC3339)"
// @Param end query string true "Interval end (RFC3339)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /bookings/check [get]
func (h *BookingHandler) Check(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "agentId is required"))
		return
	}
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "start must be RFC3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "end must be RFC3339"))
		return
	}
	interval, err := timeslot.New(start, end)
	if err != nil {
		response.Error(c, err)
		return
	}

	conflict, err := h.service.CheckInterval(c.Request.Context(), agentID, interval)
	if err != nil {
		response.Error(c, err)
		return
	}
	if conflict != nil {
		response.JSON(c, http.StatusOK, gin.H{"available": false, "conflict": conflict}, nil)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"available": true}, nil)
}

// respondBookingError renders conflicts with their suggestions attached;
// everything else falls through to the standard error envelope.
func respondBookingError(c *gin.Context, err error) {
	var conflict *models.BookingConflictError
	if errors.As(err, &conflict) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusConflict, response.Envelope{
			Data:  conflict,
			Error: appErrors.FromError(err),
		})
		return
	}
	response.Error(c, err)
}
