package models

import "time"

const (
	StatusWaiting   = "waiting"
	StatusReady     = "ready"
	StatusCompleted = "completed"
)

const (
	MinPlayers = 2
	MaxPlayers = 4
)

type Room struct {
	Code       string    `json:"code"`        // Primary key, shareable
	MaxPlayers int       `json:"max_players"` // 2..4, fixed at creation
	Status     string    `json:"status"`      // 'waiting', 'ready', 'completed'
	CreatedAt  time.Time `json:"created_at"`
}

// RoomDetail is a consistent snapshot of a room. Players holds the active
// roster in join order; Result is set only once the room is completed.
type RoomDetail struct {
	Room
	Players []Player    `json:"players"`
	Result  *GameResult `json:"result,omitempty"`
}

func (d RoomDetail) Player(id string) (Player, bool) {
	for _, p := range d.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Public is the view of the room shown to viewers. Allocations stay sealed
// until the room is completed; only the submitted flag is visible before.
func (d RoomDetail) Public() RoomDetail {
	if d.Status == StatusCompleted {
		return d
	}
	players := make([]Player, len(d.Players))
	for i, p := range d.Players {
		players[i] = p.Sealed()
	}
	d.Players = players
	return d
}
