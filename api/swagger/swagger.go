package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "HearthView Tours API",
        "description": "Tour scheduling and availability engine for the HearthView property marketplace",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and identity"},
        {"name": "Availability", "description": "Recurring windows, blocked times and resolved slots"},
        {"name": "Bookings", "description": "Tour requests and lifecycle transitions"},
        {"name": "Calendar", "description": "External calendar links"},
        {"name": "Events", "description": "Live event streams"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/agents/{agentID}/availability": {
            "get": {
                "tags": ["Availability"],
                "summary": "Resolve an agent's bookable slots for a day",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "required": true, "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/agents/{agentID}/availability/recurring": {
            "get": {
                "tags": ["Availability"],
                "summary": "List recurring availability windows",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Availability"],
                "summary": "Create a recurring availability window",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRecurringAvailabilityRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/agents/{agentID}/availability/recurring/{id}": {
            "put": {
                "tags": ["Availability"],
                "summary": "Update a recurring availability window",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRecurringAvailabilityRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Availability"],
                "summary": "Delete a recurring availability window",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/agents/{agentID}/blocked-times": {
            "get": {
                "tags": ["Availability"],
                "summary": "List blocked times",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Availability"],
                "summary": "Block a window off the calendar",
                "parameters": [
                    {"name": "agentID", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBlockedTimeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings": {
            "get": {
                "tags": ["Bookings"],
                "summary": "List bookings visible to the caller",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "propertyId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Bookings"],
                "summary": "Request a tour",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RequestTourRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict with suggestions", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings/check": {
            "get": {
                "tags": ["Bookings"],
                "summary": "Check whether an interval is bookable",
                "parameters": [
                    {"name": "agentId", "in": "query", "required": true, "type": "string"},
                    {"name": "start", "in": "query", "required": true, "type": "string", "format": "date-time"},
                    {"name": "end", "in": "query", "required": true, "type": "string", "format": "date-time"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings/{id}/transition": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Move a booking through its state machine",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Illegal transition"}
                }
            }
        },
        "/calendar/link": {
            "post": {
                "tags": ["Calendar"],
                "summary": "Connect an external calendar",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Calendar"],
                "summary": "Disconnect the external calendar",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/events/{topic}": {
            "get": {
                "tags": ["Events"],
                "summary": "Subscribe to a live event topic",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "topic", "in": "path", "required": true, "type": "string", "enum": ["tours", "approvals", "documents", "verification"]}
                ],
                "responses": {
                    "200": {"description": "Event stream"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CreateRecurringAvailabilityRequest": {
            "type": "object",
            "required": ["day_of_week", "start_time", "end_time"],
            "properties": {
                "day_of_week": {"type": "integer", "minimum": 0, "maximum": 6},
                "start_time": {"type": "string", "example": "09:00"},
                "end_time": {"type": "string", "example": "17:00"},
                "slot_duration_minutes": {"type": "integer"},
                "buffer_time_minutes": {"type": "integer"},
                "is_active": {"type": "boolean"}
            }
        },
        "CreateBlockedTimeRequest": {
            "type": "object",
            "required": ["start_at", "end_at"],
            "properties": {
                "start_at": {"type": "string", "format": "date-time"},
                "end_at": {"type": "string", "format": "date-time"},
                "reason": {"type": "string"},
                "recurrence_frequency": {"type": "string", "enum": ["NONE", "DAILY", "WEEKLY", "MONTHLY"]},
                "recurrence_interval": {"type": "integer"},
                "recurrence_end_date": {"type": "string", "format": "date-time"}
            }
        },
        "RequestTourRequest": {
            "type": "object",
            "required": ["property_id", "agent_id", "start", "end"],
            "properties": {
                "property_id": {"type": "string"},
                "agent_id": {"type": "string"},
                "booking_type": {"type": "string", "enum": ["tour", "viewing", "inspection", "consultation"]},
                "start": {"type": "string", "format": "date-time"},
                "end": {"type": "string", "format": "date-time"},
                "is_virtual": {"type": "boolean"},
                "meeting_link": {"type": "string"},
                "requester_notes": {"type": "string"}
            }
        },
        "TransitionRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["confirmed", "reschedule_requested", "rescheduled", "cancelled", "completed", "no_show"]},
                "reason": {"type": "string"},
                "notes": {"type": "string"},
                "proposed_start": {"type": "string", "format": "date-time"},
                "proposed_end": {"type": "string", "format": "date-time"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
