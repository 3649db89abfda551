package models

import "time"

// Topic identifies an independent live-event channel.
type Topic string

const (
	TopicTours        Topic = "tours"
	TopicApprovals    Topic = "approvals"
	TopicDocuments    Topic = "documents"
	TopicVerification Topic = "verification"
)

// Topics lists every channel the hub serves.
var Topics = []Topic{TopicTours, TopicApprovals, TopicDocuments, TopicVerification}

// Live event types. Heartbeats and the connect handshake share the same
// frame shape as domain events.
const (
	EventConnected         = "connected"
	EventHeartbeat         = "heartbeat"
	EventTourCreated       = "tour:created"
	EventTourStatusChanged = "tour:status_changed"
)

// EventPayload carries the minimum a subscriber needs to refresh its view.
type EventPayload struct {
	EntityID         string `json:"entity_id,omitempty"`
	Status           string `json:"status,omitempty"`
	ActorName        string `json:"actor_name,omitempty"`
	ConnectedClients int    `json:"connected_clients,omitempty"`
}

// LiveEvent is the wire frame pushed to subscribers. It is ephemeral and
// never persisted beyond delivery.
type LiveEvent struct {
	Type      string       `json:"type"`
	Data      EventPayload `json:"data"`
	Timestamp time.Time    `json:"timestamp"`
}
