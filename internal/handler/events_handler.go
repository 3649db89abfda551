package handler

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/hearthview/tours-api/internal/live"
	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/service"
	appErrors "github.com/hearthview/tours-api/pkg/errors"
	"github.com/hearthview/tours-api/pkg/response"
)

// EventsHandler serves the per-topic live event streams over SSE.
type EventsHandler struct {
	hub     *live.Hub
	metrics *service.MetricsService
}

// NewEventsHandler constructs handler.
func NewEventsHandler(hub *live.Hub, metrics *service.MetricsService) *EventsHandler {
	return &EventsHandler{hub: hub, metrics: metrics}
}

// Stream godoc
// @Summary Subscribe to a live event topic
// @Description Server-sent event stream; one topic per connection.
// @Tags Events
// @Produce text/event-stream
// @Param topic path string true "Topic" Enums(tours, approvals, documents, verification)
// @Success 200
// @Failure 404 {object} response.Envelope
// @Router /events/{topic} [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	topic := models.Topic(c.Param("topic"))
	sub, err := h.hub.Subscribe(topic)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown topic %q", topic)))
		return
	}
	defer func() {
		h.hub.Unsubscribe(topic, sub.ID)
		h.reportClients(topic)
	}()
	h.reportClients(topic)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, payload)
			c.Writer.Flush()
		}
	}
}

func (h *EventsHandler) reportClients(topic models.Topic) {
	if h.metrics != nil {
		h.metrics.SetLiveClients(string(topic), h.hub.ClientCount(topic))
	}
}
