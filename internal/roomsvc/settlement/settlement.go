// Package settlement computes room payouts once every player has submitted.
package settlement

import (
	"errors"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
)

// BoostFactor multiplies the pooled asset B contributions.
const BoostFactor = 1.5

var (
	ErrNoPlayers         = errors.New("no players to settle")
	ErrMissingAllocation = errors.New("missing allocations")
)

// Settle splits the boosted B pool evenly across all players and adds each
// player's own A allocation. It does not round; rounding is a display concern.
// Payouts are returned in the order of players.
func Settle(players []models.Player) (models.GameResult, error) {
	if len(players) == 0 {
		return models.GameResult{}, ErrNoPlayers
	}

	totalB := 0
	for _, p := range players {
		if p.AllocationA == nil || p.AllocationB == nil {
			return models.GameResult{}, ErrMissingAllocation
		}
		totalB += *p.AllocationB
	}

	boosted := BoostFactor * float64(totalB)
	share := boosted / float64(len(players))

	payouts := make([]models.PlayerPayout, 0, len(players))
	for _, p := range players {
		payout := float64(*p.AllocationA) + share
		payouts = append(payouts, models.PlayerPayout{
			PlayerID:      p.ID,
			DisplayName:   p.DisplayName,
			AllocationA:   *p.AllocationA,
			AllocationB:   *p.AllocationB,
			Payout:        payout,
			PayoutDisplay: models.FormatMoney(payout),
		})
	}

	return models.GameResult{
		TotalBPool:  float64(totalB),
		BoostedPool: boosted,
		EachShare:   share,
		Players:     payouts,
	}, nil
}
