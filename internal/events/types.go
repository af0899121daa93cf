// Package events defines the event types that flow between the connection
// state machine and the monitoring side of crawlspace.
package events

import "time"

// EventType identifies an event on the bus.
type EventType string

const (
	// Player lifecycle
	EventPlayerJoined   EventType = "player_joined"
	EventPlayerLeft     EventType = "player_left"
	EventLoginRejected  EventType = "login_rejected"
	EventStatusPing     EventType = "status_ping"
	EventConnectionFail EventType = "connection_error"

	// System
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// AllTypes lists every event type, for consumers that forward everything.
var AllTypes = []EventType{
	EventPlayerJoined,
	EventPlayerLeft,
	EventLoginRejected,
	EventStatusPing,
	EventConnectionFail,
	EventHeartbeat,
	EventShutdown,
}

// Event is a message published on the bus.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Payload interface{} `json:"payload,omitempty"`
}

// PlayerPayload accompanies player_joined and player_left.
type PlayerPayload struct {
	UUID     string    `json:"uuid"`
	Name     string    `json:"name"`
	Remote   string    `json:"remote"`
	ConnID   uint64    `json:"conn_id"`
	Reason   string    `json:"reason,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	At       time.Time `json:"at"`
}

// RejectedPayload accompanies login_rejected.
type RejectedPayload struct {
	Name   string `json:"name"`
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}

// StatusPingPayload accompanies status_ping.
type StatusPingPayload struct {
	Remote   string `json:"remote"`
	Protocol int32  `json:"protocol"`
}

// ConnectionErrorPayload accompanies connection_error for connections that
// ended abnormally before or after login.
type ConnectionErrorPayload struct {
	Remote string `json:"remote"`
	State  string `json:"state"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// HeartbeatPayload is published periodically by the health manager.
type HeartbeatPayload struct {
	Online        int     `json:"online"`
	Max           int     `json:"max"`
	Connections   int64   `json:"connections"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// ShutdownPayload is published once when the process begins shutting down.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}
