package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthview/tours-api/internal/live"
	"github.com/hearthview/tours-api/internal/models"
)

func TestEventsHandlerUnknownTopic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEventsHandler(live.NewHub(time.Minute, 8, nil), nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/events/nope", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "topic", Value: "nope"}}

	handler.Stream(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsHandlerStreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := live.NewHub(time.Minute, 8, nil)
	handler := NewEventsHandler(hub, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest(http.MethodGet, "/events/tours", nil)
	c.Request = req.WithContext(ctx)
	c.Params = gin.Params{{Key: "topic", Value: "tours"}}

	done := make(chan struct{})
	go func() {
		handler.Stream(c)
		close(done)
	}()

	// Wait until the connection is registered, then push one event.
	require.Eventually(t, func() bool { return hub.ClientCount(models.TopicTours) == 1 },
		time.Second, 5*time.Millisecond)
	hub.Publish(models.TopicTours, models.LiveEvent{
		Type: models.EventTourCreated,
		Data: models.EventPayload{EntityID: "b-1", Status: "pending"},
	})
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Contains(t, body, "event: "+models.EventConnected)
	assert.Contains(t, body, "event: "+models.EventTourCreated)
	assert.Contains(t, body, `"entity_id":"b-1"`)
	assert.Zero(t, hub.ClientCount(models.TopicTours), "unsubscribed on disconnect")
}
