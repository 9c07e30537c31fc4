package dashboard

import (
	"encoding/json"
	"time"
)

// Observer bridges engine events onto the dashboard's broadcast
// channel. It implements the engine observer interface.
type Observer struct {
	server *Server
}

// NewObserver creates an observer broadcasting through the server.
func NewObserver(server *Server) *Observer {
	return &Observer{server: server}
}

// Remapped broadcasts an id remap event.
func (o *Observer) Remapped(tempID, canonicalID string) {
	data, err := json.Marshal(RemapData{TempID: tempID, CanonicalID: canonicalID})
	if err != nil {
		return
	}
	o.server.Broadcast(Message{
		Type:      MessageTypeRemap,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Refresh broadcasts a sync completion with the current status.
func (o *Observer) Refresh() {
	data, err := json.Marshal(statusData(o.server.status()))
	if err != nil {
		return
	}
	o.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      data,
	})
}
