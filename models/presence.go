package models

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceInCall  PresenceStatus = "in-call"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceEntry is a read-only snapshot of one connected user
type PresenceEntry struct {
	UserID          string         `json:"user_id"`
	SessionID       string         `json:"session_id"`
	Status          PresenceStatus `json:"status"`
	CallID          string         `json:"call_id,omitempty"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
}

// UserPresence is the record mirrored to Redis for other services
type UserPresence struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

type StatusResponse struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	IsOnline bool           `json:"is_online"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
}

type OnlineUsersResponse struct {
	Count int             `json:"count"`
	Users []PresenceEntry `json:"users"`
}
