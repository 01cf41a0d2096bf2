package models

import "time"

type Player struct {
	ID          string     `json:"id"`        // uuid, generated at join
	RoomCode    string     `json:"room_code"` // FK to rooms(code)
	DisplayName string     `json:"display_name"`
	Submitted   bool       `json:"submitted"`
	AllocationA *int       `json:"allocation_a"`
	AllocationB *int       `json:"allocation_b"`
	Payout      *float64   `json:"payout"` // set once by settlement
	JoinedAt    time.Time  `json:"joined_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	LeftAt      *time.Time `json:"left_at,omitempty"` // only set after completion
}

// Active reports whether the player is still on the room roster.
func (p Player) Active() bool {
	return p.LeftAt == nil
}

// Sealed hides the split of a player whose room has not settled yet.
func (p Player) Sealed() Player {
	p.AllocationA = nil
	p.AllocationB = nil
	return p
}
