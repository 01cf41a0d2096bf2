package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PGStore) CreateRoom(ctx context.Context, room models.Room) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rooms (code, max_players, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, room.Code, room.MaxPlayers, room.Status, room.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *PGStore) GetRoomDetail(ctx context.Context, code string) (models.RoomDetail, error) {
	// repeatable read gives one snapshot across the three reads
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.RoomDetail{}, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := pgLoadRoom(ctx, tx, code, false)
	if err != nil {
		return models.RoomDetail{}, err
	}
	players, err := pgListPlayers(ctx, tx, code)
	if err != nil {
		return models.RoomDetail{}, err
	}
	var result *models.GameResult
	if room.Status == models.StatusCompleted {
		result, err = pgLoadResult(ctx, tx, code)
		if err != nil {
			return models.RoomDetail{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.RoomDetail{}, fmt.Errorf("commit read tx: %w", err)
	}
	return buildDetail(room, players, result), nil
}

func (s *PGStore) InRoomTx(ctx context.Context, code string, fn func(tx RoomTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	room, err := pgLoadRoom(ctx, tx, code, true)
	if err != nil {
		return err
	}

	if err := fn(&pgRoomTx{tx: tx, room: room}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PGStore) Close() {
	s.db.Close()
}

func pgLoadRoom(ctx context.Context, q querier, code string, lock bool) (models.Room, error) {
	query := `
		SELECT code, max_players, status, created_at
		FROM rooms
		WHERE code = $1
	`
	if lock {
		query += ` FOR UPDATE`
	}

	var room models.Room
	err := q.QueryRow(ctx, query, code).Scan(
		&room.Code,
		&room.MaxPlayers,
		&room.Status,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, fmt.Errorf("failed to load room: %w", err)
	}
	return room, nil
}

func pgListPlayers(ctx context.Context, q querier, code string) ([]models.Player, error) {
	rows, err := q.Query(ctx, `
		SELECT id, room_code, display_name, allocation_a, allocation_b, payout,
		       submitted_at, left_at, joined_at
		FROM players
		WHERE room_code = $1
		ORDER BY joined_at, id
	`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		err := rows.Scan(
			&p.ID,
			&p.RoomCode,
			&p.DisplayName,
			&p.AllocationA,
			&p.AllocationB,
			&p.Payout,
			&p.SubmittedAt,
			&p.LeftAt,
			&p.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan player row: %w", err)
		}
		p.Submitted = p.SubmittedAt != nil
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return players, nil
}

func pgLoadResult(ctx context.Context, q querier, code string) (*models.GameResult, error) {
	result := &models.GameResult{RoomCode: code}
	var payouts []byte
	err := q.QueryRow(ctx, `
		SELECT total_b_pool, boosted_pool, each_share, payouts, created_at
		FROM game_results
		WHERE room_code = $1
	`, code).Scan(
		&result.TotalBPool,
		&result.BoostedPool,
		&result.EachShare,
		&payouts,
		&result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("completed room %s has no result", code)
		}
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	if err := json.Unmarshal(payouts, &result.Players); err != nil {
		return nil, fmt.Errorf("decode payouts: %w", err)
	}
	return result, nil
}

type pgRoomTx struct {
	tx   pgx.Tx
	room models.Room
}

func (t *pgRoomTx) Room() models.Room {
	return t.room
}

func (t *pgRoomTx) Players(ctx context.Context) ([]models.Player, error) {
	return pgListPlayers(ctx, t.tx, t.room.Code)
}

func (t *pgRoomTx) InsertPlayer(ctx context.Context, p models.Player) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO players (id, room_code, display_name, joined_at)
		VALUES ($1, $2, $3, $4)
	`, p.ID, t.room.Code, p.DisplayName, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

func (t *pgRoomTx) DeletePlayer(ctx context.Context, playerID string) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM players WHERE id = $1 AND room_code = $2
	`, playerID, t.room.Code)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleWrite
	}
	return nil
}

func (t *pgRoomTx) MarkPlayerLeft(ctx context.Context, playerID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE players SET left_at = $1
		WHERE id = $2 AND room_code = $3 AND left_at IS NULL
	`, at, playerID, t.room.Code)
	if err != nil {
		return fmt.Errorf("failed to mark player left: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleWrite
	}
	return nil
}

func (t *pgRoomTx) RecordAllocation(ctx context.Context, playerID string, a, b int, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE players
		SET allocation_a = $1, allocation_b = $2, submitted_at = $3
		WHERE id = $4 AND room_code = $5 AND submitted_at IS NULL
	`, a, b, at, playerID, t.room.Code)
	if err != nil {
		return fmt.Errorf("failed to record allocation: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleWrite
	}
	return nil
}

func (t *pgRoomTx) SetStatus(ctx context.Context, from, to string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE rooms SET status = $1
		WHERE code = $2 AND status = $3
	`, to, t.room.Code, from)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleWrite
	}
	t.room.Status = to
	return nil
}

func (t *pgRoomTx) SavePayouts(ctx context.Context, payouts []models.PlayerPayout) error {
	for _, p := range payouts {
		tag, err := t.tx.Exec(ctx, `
			UPDATE players SET payout = $1
			WHERE id = $2 AND room_code = $3 AND payout IS NULL
		`, p.Payout, p.PlayerID, t.room.Code)
		if err != nil {
			return fmt.Errorf("failed to save payout: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrStaleWrite
		}
	}
	return nil
}

func (t *pgRoomTx) SaveResult(ctx context.Context, result models.GameResult) error {
	payouts, err := json.Marshal(result.Players)
	if err != nil {
		return fmt.Errorf("encode payouts: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO game_results (room_code, total_b_pool, boosted_pool, each_share, payouts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.room.Code, result.TotalBPool, result.BoostedPool, result.EachShare, payouts, result.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStaleWrite
		}
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (t *pgRoomTx) Result(ctx context.Context) (*models.GameResult, error) {
	return pgLoadResult(ctx, t.tx, t.room.Code)
}
