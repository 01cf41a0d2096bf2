package db

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable database in TEST_POSTGRES_URL.
func testPGStore(t *testing.T) *store.PGStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	require.NoError(t, Migrate(dsn))

	pool, err := Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return store.NewPGStore(pool)
}

func TestPGStore_RoomLifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := testPGStore(t)

	code := uuid.NewString()[:6]
	room := models.Room{Code: code, MaxPlayers: 2, Status: models.StatusWaiting, CreatedAt: time.Now().UTC()}
	req.NoError(s.CreateRoom(ctx, room))
	req.ErrorIs(s.CreateRoom(ctx, room), store.ErrCodeTaken)

	p := models.Player{ID: uuid.NewString(), DisplayName: "ada", JoinedAt: time.Now().UTC()}
	err := s.InRoomTx(ctx, code, func(tx store.RoomTx) error {
		req.NoError(tx.InsertPlayer(ctx, p))
		req.NoError(tx.RecordAllocation(ctx, p.ID, 30, 70, time.Now()))
		return tx.SetStatus(ctx, models.StatusWaiting, models.StatusReady)
	})
	req.NoError(err)

	detail, err := s.GetRoomDetail(ctx, code)
	req.NoError(err)
	req.Equal(models.StatusReady, detail.Status)
	req.Len(detail.Players, 1)
	req.True(detail.Players[0].Submitted)
	req.Equal(70, *detail.Players[0].AllocationB)
}

func TestPGStore_RowLockSerializesStatusFlip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := testPGStore(t)

	code := uuid.NewString()[:6]
	req.NoError(s.CreateRoom(ctx, models.Room{Code: code, MaxPlayers: 2, Status: models.StatusReady, CreatedAt: time.Now().UTC()}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InRoomTx(ctx, code, func(tx store.RoomTx) error {
				return tx.SetStatus(ctx, models.StatusReady, models.StatusCompleted)
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	req.Equal(1, wins)
}
