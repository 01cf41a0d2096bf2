// Package store is the durable record of rooms, players and game results.
// Two backends share one contract: Postgres through pgxpool and an embedded
// SQLite file.
package store

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

//go:embed sqlite_schema.sql
var sqliteSchema string

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrCodeTaken    = errors.New("room code already taken")
	// ErrStaleWrite means a conditional update matched no row.
	ErrStaleWrite = errors.New("conditional write matched no row")
)

type Store interface {
	CreateRoom(ctx context.Context, room models.Room) error
	// GetRoomDetail reads the room, its active roster and result in one
	// read transaction.
	GetRoomDetail(ctx context.Context, code string) (models.RoomDetail, error)
	// InRoomTx runs fn in a write transaction holding the room row lock.
	// Any error from fn rolls the transaction back.
	InRoomTx(ctx context.Context, code string, fn func(tx RoomTx) error) error
	Ping(ctx context.Context) error
	Close()
}

// RoomTx is the set of writes a room mutation may perform.
type RoomTx interface {
	Room() models.Room
	// Players returns every player row of the room, departed ones included,
	// in join order.
	Players(ctx context.Context) ([]models.Player, error)
	InsertPlayer(ctx context.Context, p models.Player) error
	DeletePlayer(ctx context.Context, playerID string) error
	MarkPlayerLeft(ctx context.Context, playerID string, at time.Time) error
	// RecordAllocation only writes a player that has not submitted yet.
	RecordAllocation(ctx context.Context, playerID string, a, b int, at time.Time) error
	// SetStatus only moves the room if it is currently in from.
	SetStatus(ctx context.Context, from, to string) error
	// SavePayouts writes each payout to a player whose payout is still unset.
	SavePayouts(ctx context.Context, payouts []models.PlayerPayout) error
	SaveResult(ctx context.Context, result models.GameResult) error
	// Result loads the stored result of a completed room.
	Result(ctx context.Context) (*models.GameResult, error)
}

func buildDetail(room models.Room, players []models.Player, result *models.GameResult) models.RoomDetail {
	active := make([]models.Player, 0, len(players))
	for _, p := range players {
		if p.Active() {
			active = append(active, p)
		}
	}
	return models.RoomDetail{Room: room, Players: active, Result: result}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }
