package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlayerPayout struct {
	PlayerID      string  `json:"player_id"`
	DisplayName   string  `json:"display_name"`
	AllocationA   int     `json:"allocation_a"`
	AllocationB   int     `json:"allocation_b"`
	Payout        float64 `json:"payout"`
	PayoutDisplay string  `json:"payout_display"`
}

type GameResult struct {
	RoomCode    string         `json:"room_code"`
	TotalBPool  float64        `json:"total_b_pool"`
	BoostedPool float64        `json:"boosted_pool"`
	EachShare   float64        `json:"each_share"`
	Players     []PlayerPayout `json:"players"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FormatMoney rounds for display only; stored payouts keep full precision.
func FormatMoney(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
