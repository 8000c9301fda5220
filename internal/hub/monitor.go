package hub

import (
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connectionStats := ms.getConnectionStats()
	roomStats := ms.getRoomStats()
	clients := ms.getClientList()

	status := "healthy"
	if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Rooms:       roomStats,
		Clients:     clients,
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	stats := model.ConnectionStats{
		TotalConnected: len(ms.hub.onlineUsers),
	}
	for _, client := range ms.hub.onlineUsers {
		if client.identity.IsElevated() {
			stats.TotalElevated++
		}
	}
	return stats
}

func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for room, members := range bucket.rooms {
			memberIDs := make([]string, 0, len(members))
			for _, client := range members {
				memberIDs = append(memberIDs, client.identity.UserID)
			}

			stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
				Room:         room,
				TotalMembers: len(members),
				MemberIDs:    memberIDs,
			})
			stats.TotalRooms++
		}
		bucket.RUnlock()
	}

	return stats
}

func (ms *MonitorService) getClientList() []model.ClientInfo {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	clients := make([]model.ClientInfo, 0, len(ms.hub.onlineUsers))
	for _, client := range ms.hub.onlineUsers {
		clients = append(clients, model.ClientInfo{
			ClientID: client.ID,
			UserID:   client.identity.UserID,
			Role:     client.identity.Role,
		})
	}
	return clients
}
