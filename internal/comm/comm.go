package comm

import (
	"encoding/json"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
)

const (
	EventSnapshot        = "snapshot" // sent once to a new viewer, never published
	EventPlayerJoined    = "player_joined"
	EventPlayerSubmitted = "player_submitted"
	EventPlayerLeft      = "player_left"
	EventResultsReady    = "results_ready"
)

// Event is the envelope delivered to room viewers and relayed to NATS.
type Event struct {
	Type     string          `json:"type"`
	RoomCode string          `json:"room_code"`
	Seq      uint64          `json:"seq,omitempty"` // per topic publish order
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
}

type PlayerPayload struct {
	Player models.Player `json:"player"`
	Status string        `json:"status"` // room status after the change
}

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Status   string `json:"status"`
}

type SnapshotPayload struct {
	Room models.RoomDetail `json:"room"`
}

// NewEvent marshals payload into an envelope for room code.
func NewEvent(eventType, code string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:     eventType,
		RoomCode: code,
		Payload:  data,
		At:       time.Now().UTC(),
	}, nil
}
