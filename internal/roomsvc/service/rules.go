package service

import (
	"strings"
	"unicode/utf8"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/errs"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/samber/lo"
)

const maxDisplayNameLen = 64

func validateMaxPlayers(n int) error {
	if n < models.MinPlayers || n > models.MaxPlayers {
		return errs.ErrInvalidMaxPlayers
	}
	return nil
}

func normalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", errs.ErrInvalidDisplayName
	}
	return name, nil
}

func validateAllocation(a, b int) error {
	if a < 0 || b < 0 {
		return errs.ErrInvalidAllocation
	}
	if a+b != 100 {
		return errs.ErrInvalidSum
	}
	return nil
}

// canJoin checks a join against the room state and its active head count.
func canJoin(room models.Room, active int) error {
	switch {
	case room.Status == models.StatusCompleted:
		return errs.ErrRoomClosed
	case active >= room.MaxPlayers:
		return errs.ErrRoomFull
	case room.Status == models.StatusReady:
		// ready with a vacancy means the roster and status disagree
		return errs.ErrRoomClosed
	}
	return nil
}

// statusForHeadCount is the status of a room that has not settled.
func statusForHeadCount(room models.Room, active int) string {
	if active >= room.MaxPlayers {
		return models.StatusReady
	}
	return models.StatusWaiting
}

func canSubmit(room models.Room, player models.Player) error {
	if player.Submitted {
		return errs.ErrAlreadySubmitted
	}
	if room.Status != models.StatusReady {
		return errs.ErrRoomNotReady
	}
	return nil
}

// allSubmitted reports whether the full roster of a ready room has submitted.
func allSubmitted(room models.Room, players []models.Player) bool {
	if len(players) < room.MaxPlayers || len(players) < models.MinPlayers {
		return false
	}
	return lo.EveryBy(players, func(p models.Player) bool { return p.Submitted })
}

func activePlayers(players []models.Player) []models.Player {
	return lo.Filter(players, func(p models.Player, _ int) bool { return p.Active() })
}
