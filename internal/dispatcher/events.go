package dispatcher

import (
	"time"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/store"
)

func chainEvent(name, agentID, teamID string, msg *store.Message) bus.Event {
	fields := map[string]any{
		"at":         time.Now(),
		"message_id": msg.ID,
		"agent_id":   agentID,
		"channel":    msg.Channel,
	}
	if teamID != "" {
		fields["team_id"] = teamID
	}
	return bus.Event{Name: name, Fields: fields}
}

func map2event(name string, fields map[string]any) bus.Event {
	fields["at"] = time.Now()
	return bus.Event{Name: name, Fields: fields}
}
