package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	_ "modernc.org/sqlite"
)

// LiteStore keeps rooms in a single SQLite file. All access goes through one
// connection, so write transactions are serialized inside the process and
// busy_timeout covers other processes sharing the file. Transactions of
// different rooms queue behind each other here; PGStore locks per room.
type LiteStore struct {
	db *sql.DB
}

func OpenLiteStore(path string) (*LiteStore, error) {
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &LiteStore{db: db}, nil
}

// sqlQuerier is satisfied by *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *LiteStore) CreateRoom(ctx context.Context, room models.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (code, max_players, status, created_at)
		VALUES (?, ?, ?, ?)
	`, room.Code, room.MaxPlayers, room.Status, room.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *LiteStore) GetRoomDetail(ctx context.Context, code string) (models.RoomDetail, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RoomDetail{}, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	room, err := liteLoadRoom(ctx, tx, code)
	if err != nil {
		return models.RoomDetail{}, err
	}
	players, err := liteListPlayers(ctx, tx, code)
	if err != nil {
		return models.RoomDetail{}, err
	}
	var result *models.GameResult
	if room.Status == models.StatusCompleted {
		result, err = liteLoadResult(ctx, tx, code)
		if err != nil {
			return models.RoomDetail{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.RoomDetail{}, fmt.Errorf("commit read tx: %w", err)
	}
	return buildDetail(room, players, result), nil
}

func (s *LiteStore) InRoomTx(ctx context.Context, code string, fn func(tx RoomTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	room, err := liteLoadRoom(ctx, tx, code)
	if err != nil {
		return err
	}

	if err := fn(&liteRoomTx{tx: tx, room: room}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *LiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *LiteStore) Close() {
	s.db.Close()
}

func liteLoadRoom(ctx context.Context, q sqlQuerier, code string) (models.Room, error) {
	var room models.Room
	var createdAt int64
	err := q.QueryRowContext(ctx, `
		SELECT code, max_players, status, created_at
		FROM rooms
		WHERE code = ?
	`, code).Scan(&room.Code, &room.MaxPlayers, &room.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, fmt.Errorf("failed to load room: %w", err)
	}
	room.CreatedAt = fromNanos(createdAt)
	return room, nil
}

func liteListPlayers(ctx context.Context, q sqlQuerier, code string) ([]models.Player, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, room_code, display_name, allocation_a, allocation_b, payout,
		       submitted_at, left_at, joined_at
		FROM players
		WHERE room_code = ?
		ORDER BY joined_at, id
	`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var (
			p                   models.Player
			allocA, allocB      sql.NullInt64
			payout              sql.NullFloat64
			submittedAt, leftAt sql.NullInt64
			joinedAt            int64
		)
		err := rows.Scan(
			&p.ID,
			&p.RoomCode,
			&p.DisplayName,
			&allocA,
			&allocB,
			&payout,
			&submittedAt,
			&leftAt,
			&joinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan player row: %w", err)
		}
		if allocA.Valid && allocB.Valid {
			p.AllocationA = intPtr(int(allocA.Int64))
			p.AllocationB = intPtr(int(allocB.Int64))
		}
		if payout.Valid {
			p.Payout = floatPtr(payout.Float64)
		}
		if submittedAt.Valid {
			p.SubmittedAt = timePtr(fromNanos(submittedAt.Int64))
			p.Submitted = true
		}
		if leftAt.Valid {
			p.LeftAt = timePtr(fromNanos(leftAt.Int64))
		}
		p.JoinedAt = fromNanos(joinedAt)
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return players, nil
}

func liteLoadResult(ctx context.Context, q sqlQuerier, code string) (*models.GameResult, error) {
	result := &models.GameResult{RoomCode: code}
	var payouts string
	var createdAt int64
	err := q.QueryRowContext(ctx, `
		SELECT total_b_pool, boosted_pool, each_share, payouts, created_at
		FROM game_results
		WHERE room_code = ?
	`, code).Scan(&result.TotalBPool, &result.BoostedPool, &result.EachShare, &payouts, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("completed room %s has no result", code)
		}
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	if err := json.Unmarshal([]byte(payouts), &result.Players); err != nil {
		return nil, fmt.Errorf("decode payouts: %w", err)
	}
	result.CreatedAt = fromNanos(createdAt)
	return result, nil
}

type liteRoomTx struct {
	tx   *sql.Tx
	room models.Room
}

func (t *liteRoomTx) Room() models.Room {
	return t.room
}

func (t *liteRoomTx) Players(ctx context.Context) ([]models.Player, error) {
	return liteListPlayers(ctx, t.tx, t.room.Code)
}

func (t *liteRoomTx) InsertPlayer(ctx context.Context, p models.Player) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO players (id, room_code, display_name, joined_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, t.room.Code, p.DisplayName, p.JoinedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

func (t *liteRoomTx) DeletePlayer(ctx context.Context, playerID string) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM players WHERE id = ? AND room_code = ?
	`, playerID, t.room.Code)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return expectOneRow(res)
}

func (t *liteRoomTx) MarkPlayerLeft(ctx context.Context, playerID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE players SET left_at = ?
		WHERE id = ? AND room_code = ? AND left_at IS NULL
	`, at.UnixNano(), playerID, t.room.Code)
	if err != nil {
		return fmt.Errorf("failed to mark player left: %w", err)
	}
	return expectOneRow(res)
}

func (t *liteRoomTx) RecordAllocation(ctx context.Context, playerID string, a, b int, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE players
		SET allocation_a = ?, allocation_b = ?, submitted_at = ?
		WHERE id = ? AND room_code = ? AND submitted_at IS NULL
	`, a, b, at.UnixNano(), playerID, t.room.Code)
	if err != nil {
		return fmt.Errorf("failed to record allocation: %w", err)
	}
	return expectOneRow(res)
}

func (t *liteRoomTx) SetStatus(ctx context.Context, from, to string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rooms SET status = ?
		WHERE code = ? AND status = ?
	`, to, t.room.Code, from)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	t.room.Status = to
	return nil
}

func (t *liteRoomTx) SavePayouts(ctx context.Context, payouts []models.PlayerPayout) error {
	for _, p := range payouts {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE players SET payout = ?
			WHERE id = ? AND room_code = ? AND payout IS NULL
		`, p.Payout, p.PlayerID, t.room.Code)
		if err != nil {
			return fmt.Errorf("failed to save payout: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
	}
	return nil
}

func (t *liteRoomTx) SaveResult(ctx context.Context, result models.GameResult) error {
	payouts, err := json.Marshal(result.Players)
	if err != nil {
		return fmt.Errorf("encode payouts: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO game_results (room_code, total_b_pool, boosted_pool, each_share, payouts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.room.Code, result.TotalBPool, result.BoostedPool, result.EachShare, string(payouts), result.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrStaleWrite
		}
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (t *liteRoomTx) Result(ctx context.Context) (*models.GameResult, error) {
	return liteLoadResult(ctx, t.tx, t.room.Code)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrStaleWrite
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
