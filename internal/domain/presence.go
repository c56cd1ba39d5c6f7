package domain

import "time"

// ConnID identifies one live transport connection.
type ConnID string

// ConnectionEntry is the registry record for one user.
// ConnID is empty once the user is offline. Version grows with every
// transition the registry applies, across all users.
type ConnectionEntry struct {
	UserID   UserID     `json:"userId"`
	ConnID   ConnID     `json:"connectionId,omitempty"`
	Device   string     `json:"device,omitempty"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"lastSeen"`
	Version  uint64     `json:"-"`
}

// PresenceState is the per-user value of a snapshot.
type PresenceState struct {
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"lastSeen"`
}

// PresenceSnapshot is sent once to every newly set up connection.
type PresenceSnapshot map[UserID]PresenceState

// PresenceDelta is broadcast whenever one user's status changes.
type PresenceDelta struct {
	UserID   UserID     `json:"userId"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"lastSeen"`
}

func (e ConnectionEntry) Delta() PresenceDelta {
	return PresenceDelta{UserID: e.UserID, Status: e.Status, LastSeen: e.LastSeen}
}
