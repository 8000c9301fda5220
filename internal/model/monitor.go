package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"` // "healthy", "idle"
	Connections ConnectionStats `json:"connections"`
	Rooms       RoomStats       `json:"rooms"`
	Clients     []ClientInfo    `json:"clients"`
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // distinct users currently connected
	TotalElevated  int `json:"totalElevated"`  // connected users holding the admin role
}

// RoomStats holds room statistics
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// RoomInfo contains information about a single room
type RoomInfo struct {
	Room         string   `json:"room"`
	TotalMembers int      `json:"totalMembers"`
	MemberIDs    []string `json:"memberIds"`
}

// ClientInfo contains information about a connected client
type ClientInfo struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
}
