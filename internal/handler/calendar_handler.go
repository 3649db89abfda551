package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/service"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
	"github.com/hearthview/tours-api/pkg/response"
)

// CalendarHandler manages external calendar link endpoints.
type CalendarHandler struct {
	service *service.CalendarService
}

// NewCalendarHandler constructs handler.
func NewCalendarHandler(svc *service.CalendarService) *CalendarHandler {
	return &CalendarHandler{service: svc}
}

// Link godoc
// @Summary Connect an external calendar
// @Tags Calendar
// @Accept json
// @Produce json
// @Param payload body models.LinkCalendarRequest true "Credential payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /calendar/link [post]
func (h *CalendarHandler) Link(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.LinkCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	link, err := h.service.LinkCalendar(c.Request.Context(), claims.UserID, req.Provider, req.AccessToken, req.RefreshToken, req.Scope, req.ExpiresAt)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// Get godoc
// @Summary Get the caller's calendar link
// @Tags Calendar
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /calendar/link [get]
func (h *CalendarHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	link, err := h.service.GetLink(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Unlink godoc
// @Summary Disconnect the caller's external calendar
// @Tags Calendar
// @Produce json
// @Success 204
// @Router /calendar/link [delete]
func (h *CalendarHandler) Unlink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.UnlinkCalendar(c.Request.Context(), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
