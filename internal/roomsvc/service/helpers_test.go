package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avvvet/allocation-rooms/internal/comm"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/broker"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/store"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test")

type testEnv struct {
	svc    *RoomService
	store  *faultyStore
	broker *broker.Broker
	path   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, Options{})
}

func newTestEnvWith(t *testing.T, opts Options) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.db")
	lite, err := store.OpenLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(lite.Close)

	fs := &faultyStore{Store: lite}
	b := broker.NewBroker(broker.Options{BufferSize: 64})
	t.Cleanup(b.Close)
	return &testEnv{
		svc:    NewRoomService(fs, b, opts),
		store:  fs,
		broker: b,
		path:   path,
	}
}

func (e *testEnv) room(t *testing.T, maxPlayers int, names ...string) (models.Room, []models.Player) {
	t.Helper()
	ctx := context.Background()
	room, err := e.svc.CreateRoom(ctx, maxPlayers)
	require.NoError(t, err)
	players := make([]models.Player, 0, len(names))
	for _, name := range names {
		p, err := e.svc.JoinRoom(ctx, room.Code, name)
		require.NoError(t, err)
		players = append(players, p)
	}
	return room, players
}

// faultyStore fails the next result write when failResult is set.
type faultyStore struct {
	store.Store
	failResult atomic.Bool
	failAll    atomic.Bool
}

func (f *faultyStore) InRoomTx(ctx context.Context, code string, fn func(tx store.RoomTx) error) error {
	if f.failAll.Load() {
		return errTest
	}
	return f.Store.InRoomTx(ctx, code, func(tx store.RoomTx) error {
		return fn(&faultyTx{RoomTx: tx, store: f})
	})
}

type faultyTx struct {
	store.RoomTx
	store *faultyStore
}

func (t *faultyTx) SaveResult(ctx context.Context, result models.GameResult) error {
	if t.store.failResult.CompareAndSwap(true, false) {
		return errTest
	}
	return t.RoomTx.SaveResult(ctx, result)
}

func drain(t *testing.T, sub *broker.Subscription, n int) []comm.Event {
	t.Helper()
	events := make([]comm.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case evt, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")
			events = append(events, evt)
		case <-timeout:
			t.Fatalf("got %d of %d events", len(events), n)
		}
	}
	return events
}

func eventTypes(events []comm.Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
