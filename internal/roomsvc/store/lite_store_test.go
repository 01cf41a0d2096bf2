package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*LiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.db")
	s, err := OpenLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, path
}

func newRoom(code string, maxPlayers int) models.Room {
	return models.Room{
		Code:       code,
		MaxPlayers: maxPlayers,
		Status:     models.StatusWaiting,
		CreatedAt:  time.Now().UTC(),
	}
}

func addPlayer(t *testing.T, s Store, code, name string) models.Player {
	t.Helper()
	p := models.Player{
		ID:          uuid.NewString(),
		RoomCode:    code,
		DisplayName: name,
		JoinedAt:    time.Now().UTC(),
	}
	err := s.InRoomTx(context.Background(), code, func(tx RoomTx) error {
		return tx.InsertPlayer(context.Background(), p)
	})
	require.NoError(t, err)
	return p
}

func TestLiteStore_CreateAndGetRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := openTestStore(t)

	req.NoError(s.CreateRoom(ctx, newRoom("ABC123", 3)))

	detail, err := s.GetRoomDetail(ctx, "ABC123")
	req.NoError(err)
	req.Equal("ABC123", detail.Code)
	req.Equal(3, detail.MaxPlayers)
	req.Equal(models.StatusWaiting, detail.Status)
	req.Empty(detail.Players)
	req.Nil(detail.Result)
}

func TestLiteStore_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.CreateRoom(ctx, newRoom("ABC123", 2)))
	err := s.CreateRoom(ctx, newRoom("ABC123", 2))
	require.ErrorIs(t, err, ErrCodeTaken)
}

func TestLiteStore_MissingRoom(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, err := s.GetRoomDetail(ctx, "NOPE00")
	require.ErrorIs(t, err, ErrRoomNotFound)

	called := false
	err = s.InRoomTx(ctx, "NOPE00", func(tx RoomTx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.False(t, called)
}

func TestLiteStore_PlayersInJoinOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := openTestStore(t)
	req.NoError(s.CreateRoom(ctx, newRoom("ROOM01", 3)))

	first := addPlayer(t, s, "ROOM01", "ada")
	second := addPlayer(t, s, "ROOM01", "bob")

	detail, err := s.GetRoomDetail(ctx, "ROOM01")
	req.NoError(err)
	req.Len(detail.Players, 2)
	req.Equal(first.ID, detail.Players[0].ID)
	req.Equal(second.ID, detail.Players[1].ID)
	req.False(detail.Players[0].Submitted)
	req.Nil(detail.Players[0].AllocationA)
}

func TestLiteStore_RollbackOnError(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := openTestStore(t)
	req.NoError(s.CreateRoom(ctx, newRoom("ROOM01", 2)))
	boom := errors.New("boom")

	err := s.InRoomTx(ctx, "ROOM01", func(tx RoomTx) error {
		req.NoError(tx.InsertPlayer(ctx, models.Player{ID: uuid.NewString(), DisplayName: "ada", JoinedAt: time.Now()}))
		req.NoError(tx.SetStatus(ctx, models.StatusWaiting, models.StatusReady))
		return boom
	})
	req.ErrorIs(err, boom)

	detail, err := s.GetRoomDetail(ctx, "ROOM01")
	req.NoError(err)
	req.Empty(detail.Players)
	req.Equal(models.StatusWaiting, detail.Status)
}

func TestLiteStore_ConditionalWrites(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := openTestStore(t)
	req.NoError(s.CreateRoom(ctx, newRoom("ROOM01", 2)))
	p := addPlayer(t, s, "ROOM01", "ada")

	err := s.InRoomTx(ctx, "ROOM01", func(tx RoomTx) error {
		req.ErrorIs(tx.SetStatus(ctx, models.StatusReady, models.StatusCompleted), ErrStaleWrite)
		req.Equal(models.StatusWaiting, tx.Room().Status)

		req.NoError(tx.RecordAllocation(ctx, p.ID, 60, 40, time.Now()))
		req.ErrorIs(tx.RecordAllocation(ctx, p.ID, 50, 50, time.Now()), ErrStaleWrite)
		req.ErrorIs(tx.RecordAllocation(ctx, "missing", 50, 50, time.Now()), ErrStaleWrite)
		req.ErrorIs(tx.DeletePlayer(ctx, "missing"), ErrStaleWrite)
		return nil
	})
	req.NoError(err)

	detail, err := s.GetRoomDetail(ctx, "ROOM01")
	req.NoError(err)
	got, ok := detail.Player(p.ID)
	req.True(ok)
	req.True(got.Submitted)
	req.Equal(60, *got.AllocationA)
	req.Equal(40, *got.AllocationB)
}

func TestLiteStore_SumCheckConstraint(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.CreateRoom(ctx, newRoom("ROOM01", 2)))
	p := addPlayer(t, s, "ROOM01", "ada")

	err := s.InRoomTx(ctx, "ROOM01", func(tx RoomTx) error {
		return tx.RecordAllocation(ctx, p.ID, 70, 40, time.Now())
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStaleWrite)
}

func TestLiteStore_ResultPersistsAcrossReopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, path := openTestStore(t)
	req.NoError(s.CreateRoom(ctx, newRoom("ROOM01", 2)))
	a := addPlayer(t, s, "ROOM01", "ada")
	b := addPlayer(t, s, "ROOM01", "bob")

	result := models.GameResult{
		RoomCode:    "ROOM01",
		TotalBPool:  80,
		BoostedPool: 120,
		EachShare:   60,
		Players: []models.PlayerPayout{
			{PlayerID: a.ID, DisplayName: "ada", AllocationA: 80, AllocationB: 20, Payout: 140, PayoutDisplay: "140.00"},
			{PlayerID: b.ID, DisplayName: "bob", AllocationA: 40, AllocationB: 60, Payout: 100, PayoutDisplay: "100.00"},
		},
		CreatedAt: time.Now().UTC(),
	}
	err := s.InRoomTx(ctx, "ROOM01", func(tx RoomTx) error {
		req.NoError(tx.SetStatus(ctx, models.StatusWaiting, models.StatusReady))
		req.NoError(tx.RecordAllocation(ctx, a.ID, 80, 20, time.Now()))
		req.NoError(tx.RecordAllocation(ctx, b.ID, 40, 60, time.Now()))
		req.NoError(tx.SavePayouts(ctx, result.Players))
		req.NoError(tx.SaveResult(ctx, result))
		return tx.SetStatus(ctx, models.StatusReady, models.StatusCompleted)
	})
	req.NoError(err)

	err = s.InRoomTx(ctx, "ROOM01", func(tx RoomTx) error {
		return tx.SaveResult(ctx, result)
	})
	req.ErrorIs(err, ErrStaleWrite)
	s.Close()

	reopened, err := OpenLiteStore(path)
	req.NoError(err)
	defer reopened.Close()

	detail, err := reopened.GetRoomDetail(ctx, "ROOM01")
	req.NoError(err)
	req.Equal(models.StatusCompleted, detail.Status)
	req.NotNil(detail.Result)
	req.Equal(120.0, detail.Result.BoostedPool)
	req.Len(detail.Result.Players, 2)
	req.Equal("140.00", detail.Result.Players[0].PayoutDisplay)
	got, _ := detail.Player(b.ID)
	req.Equal(100.0, *got.Payout)
}

func TestLiteStore_DepartedPlayersLeaveRoster(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := openTestStore(t)
	req.NoError(s.CreateRoom(ctx, newRoom("ROOM01", 2)))
	a := addPlayer(t, s, "ROOM01", "ada")
	b := addPlayer(t, s, "ROOM01", "bob")

	err := s.InRoomTx(ctx, "ROOM01", func(tx RoomTx) error {
		req.NoError(tx.MarkPlayerLeft(ctx, a.ID, time.Now()))
		req.ErrorIs(tx.MarkPlayerLeft(ctx, a.ID, time.Now()), ErrStaleWrite)
		all, err := tx.Players(ctx)
		req.NoError(err)
		req.Len(all, 2)
		return nil
	})
	req.NoError(err)

	detail, err := s.GetRoomDetail(ctx, "ROOM01")
	req.NoError(err)
	req.Len(detail.Players, 1)
	req.Equal(b.ID, detail.Players[0].ID)
}
