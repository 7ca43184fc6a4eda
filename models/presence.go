package models

import "time"

// Presence statuses. Status is derived: a user is online iff they have
// at least one live connection.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// UserPresence is the computed presence view of one user.
type UserPresence struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status"`
	Devices  int       `json:"devices"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

type OnlineUsersResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}
