package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomDetail_PublicSealsUntilCompleted(t *testing.T) {
	req := require.New(t)
	a, b := 40, 60
	detail := RoomDetail{
		Room:    Room{Code: "ABC123", MaxPlayers: 2, Status: StatusReady},
		Players: []Player{{ID: "x", Submitted: true, AllocationA: &a, AllocationB: &b}, {ID: "y"}},
	}

	public := detail.Public()
	req.True(public.Players[0].Submitted)
	req.Nil(public.Players[0].AllocationA)
	req.Nil(public.Players[0].AllocationB)
	// the source snapshot is shared with the cache and stays intact
	req.Equal(40, *detail.Players[0].AllocationA)

	detail.Status = StatusCompleted
	public = detail.Public()
	req.Equal(40, *public.Players[0].AllocationA)
	req.Equal(60, *public.Players[0].AllocationB)
}
