package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/allocation-rooms/internal/comm"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/broker"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/errs"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/settlement"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/store"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RoomService owns every room mutation. Join, submit and leave on one room
// run one at a time inside the gate, each in a single store transaction.
// Committed changes refresh the cache and are then published while the gate
// is still held, so subscribers see events in commit order.
type RoomService struct {
	store  store.Store
	broker *broker.Broker
	gate   *Gate
	cache  *Cache

	now     func() time.Time
	newCode func() (string, error)
}

// Options tunes the snapshot cache. Zero values pick the defaults.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

func NewRoomService(st store.Store, b *broker.Broker, opts Options) *RoomService {
	return &RoomService{
		store:   st,
		broker:  b,
		gate:    NewGate(),
		cache:   NewCache(opts.CacheSize, opts.CacheTTL),
		now:     func() time.Time { return time.Now().UTC() },
		newCode: newRoomCode,
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, maxPlayers int) (models.Room, error) {
	if err := validateMaxPlayers(maxPlayers); err != nil {
		return models.Room{}, err
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return models.Room{}, errs.Persistence(fmt.Errorf("generate room code: %w", err))
		}
		room := models.Room{
			Code:       code,
			MaxPlayers: maxPlayers,
			Status:     models.StatusWaiting,
			CreatedAt:  s.now(),
		}
		err = s.store.CreateRoom(ctx, room)
		if errors.Is(err, store.ErrCodeTaken) {
			log.WithField("room", code).Debug("room code collision, retrying")
			continue
		}
		if err != nil {
			log.WithError(err).Error("failed to create room")
			return models.Room{}, errs.Persistence(err)
		}

		s.cache.Put(models.RoomDetail{Room: room, Players: []models.Player{}})
		log.WithFields(log.Fields{"room": code, "max_players": maxPlayers}).Info("room created")
		return room, nil
	}
	return models.Room{}, errs.Persistence(fmt.Errorf("no free room code after %d attempts", codeAttempts))
}

// GetRoom serves the last committed snapshot with allocations sealed until
// the room settles. A miss loads from the store under the room gate so a
// stale read cannot replace a newer entry.
func (s *RoomService) GetRoom(ctx context.Context, code string) (models.RoomDetail, error) {
	if d, ok := s.cache.Get(code); ok {
		return d.Public(), nil
	}

	var detail models.RoomDetail
	err := s.gate.Do(code, func() error {
		if d, ok := s.cache.Get(code); ok {
			detail = d
			return nil
		}
		d, err := s.store.GetRoomDetail(ctx, code)
		if err != nil {
			return mapStoreErr(err)
		}
		s.cache.Put(d)
		detail = d
		return nil
	})
	return detail.Public(), err
}

func (s *RoomService) JoinRoom(ctx context.Context, code, displayName string) (models.Player, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return models.Player{}, err
	}

	var player models.Player
	err = s.gate.Do(code, func() error {
		var detail models.RoomDetail
		err := s.store.InRoomTx(ctx, code, func(tx store.RoomTx) error {
			room := tx.Room()
			players, err := tx.Players(ctx)
			if err != nil {
				return err
			}
			active := activePlayers(players)
			if err := canJoin(room, len(active)); err != nil {
				return err
			}

			player = models.Player{
				ID:          uuid.NewString(),
				RoomCode:    code,
				DisplayName: name,
				JoinedAt:    s.now(),
			}
			if err := tx.InsertPlayer(ctx, player); err != nil {
				return err
			}
			active = append(active, player)

			if next := statusForHeadCount(room, len(active)); next != room.Status {
				if err := tx.SetStatus(ctx, room.Status, next); err != nil {
					return err
				}
			}
			detail = models.RoomDetail{Room: tx.Room(), Players: active}
			return nil
		})
		if err != nil {
			return s.fail(code, "join", err)
		}

		s.cache.Put(detail)
		log.WithFields(log.Fields{"room": code, "player": player.ID, "status": detail.Status}).Info("player joined")
		s.publish(comm.EventPlayerJoined, code, comm.PlayerPayload{Player: player, Status: detail.Status})
		return nil
	})
	if err != nil {
		return models.Player{}, err
	}
	return player, nil
}

// SubmitAllocation records a player's split. The submission that completes
// the roster settles the room in the same transaction and the result is
// returned alongside the player. Only the submitter gets its split back;
// the event carries it once the room is completed.
func (s *RoomService) SubmitAllocation(ctx context.Context, code, playerID string, a, b int) (models.Player, *models.GameResult, error) {
	if err := validateAllocation(a, b); err != nil {
		return models.Player{}, nil, err
	}

	var (
		player models.Player
		result *models.GameResult
	)
	err := s.gate.Do(code, func() error {
		var detail models.RoomDetail
		err := s.store.InRoomTx(ctx, code, func(tx store.RoomTx) error {
			player, result = models.Player{}, nil
			room := tx.Room()
			players, err := tx.Players(ctx)
			if err != nil {
				return err
			}
			active := activePlayers(players)
			idx := indexOfPlayer(active, playerID)
			if idx < 0 {
				return errs.ErrPlayerNotFound
			}
			if err := canSubmit(room, active[idx]); err != nil {
				return err
			}

			at := s.now()
			if err := tx.RecordAllocation(ctx, playerID, a, b, at); err != nil {
				return err
			}
			p := active[idx]
			p.Submitted = true
			p.AllocationA = &a
			p.AllocationB = &b
			p.SubmittedAt = &at
			active[idx] = p

			if allSubmitted(room, active) {
				res, err := s.settle(ctx, tx, active)
				if err != nil {
					return err
				}
				for i := range active {
					payout := res.Players[i].Payout
					active[i].Payout = &payout
				}
				result = &res
			}

			player = active[idx]
			detail = models.RoomDetail{Room: tx.Room(), Players: active, Result: result}
			return nil
		})
		if err != nil {
			return s.fail(code, "submit", err)
		}

		s.cache.Put(detail)
		log.WithFields(log.Fields{"room": code, "player": playerID}).Info("allocation submitted")
		announced := player
		if detail.Status != models.StatusCompleted {
			announced = player.Sealed()
		}
		s.publish(comm.EventPlayerSubmitted, code, comm.PlayerPayload{Player: announced, Status: detail.Status})
		if result != nil {
			log.WithFields(log.Fields{"room": code, "boosted_pool": result.BoostedPool}).Info("room settled")
			s.publish(comm.EventResultsReady, code, result)
		}
		return nil
	})
	if err != nil {
		return models.Player{}, nil, err
	}
	return player, result, nil
}

// settle computes and stores payouts, then flips the room to completed.
// The conditional status flip makes a second settlement fail even if the
// in-process gate is bypassed by another process.
func (s *RoomService) settle(ctx context.Context, tx store.RoomTx, active []models.Player) (models.GameResult, error) {
	res, err := settlement.Settle(active)
	if err != nil {
		return models.GameResult{}, err
	}
	res.RoomCode = tx.Room().Code
	res.CreatedAt = s.now()

	if err := tx.SavePayouts(ctx, res.Players); err != nil {
		return models.GameResult{}, err
	}
	if err := tx.SaveResult(ctx, res); err != nil {
		return models.GameResult{}, err
	}
	if err := tx.SetStatus(ctx, models.StatusReady, models.StatusCompleted); err != nil {
		return models.GameResult{}, err
	}
	return res, nil
}

// LeaveRoom removes a player from the active roster. Before completion the
// player row is deleted and a ready room reopens; after completion the row
// is kept with its payout and only marked as departed.
func (s *RoomService) LeaveRoom(ctx context.Context, code, playerID string) error {
	return s.gate.Do(code, func() error {
		var detail models.RoomDetail
		err := s.store.InRoomTx(ctx, code, func(tx store.RoomTx) error {
			room := tx.Room()
			players, err := tx.Players(ctx)
			if err != nil {
				return err
			}
			active := activePlayers(players)
			idx := indexOfPlayer(active, playerID)
			if idx < 0 {
				return errs.ErrPlayerNotFound
			}
			remaining := append(active[:idx:idx], active[idx+1:]...)

			var result *models.GameResult
			if room.Status == models.StatusCompleted {
				if err := tx.MarkPlayerLeft(ctx, playerID, s.now()); err != nil {
					return err
				}
				if result, err = tx.Result(ctx); err != nil {
					return err
				}
			} else {
				if err := tx.DeletePlayer(ctx, playerID); err != nil {
					return err
				}
				if next := statusForHeadCount(room, len(remaining)); next != room.Status {
					if err := tx.SetStatus(ctx, room.Status, next); err != nil {
						return err
					}
				}
			}
			detail = models.RoomDetail{Room: tx.Room(), Players: remaining, Result: result}
			return nil
		})
		if err != nil {
			return s.fail(code, "leave", err)
		}

		s.cache.Put(detail)
		log.WithFields(log.Fields{"room": code, "player": playerID, "status": detail.Status}).Info("player left")
		s.publish(comm.EventPlayerLeft, code, comm.PlayerLeftPayload{PlayerID: playerID, Status: detail.Status})
		return nil
	})
}

// Subscribe attaches to the live stream of a room and returns a snapshot
// taken after the attach. Events with a later commit follow on the
// subscription.
func (s *RoomService) Subscribe(ctx context.Context, code string) (*broker.Subscription, models.RoomDetail, error) {
	sub := s.broker.Subscribe(code)
	detail, err := s.GetRoom(ctx, code)
	if err != nil {
		sub.Close()
		return nil, models.RoomDetail{}, err
	}
	return sub, detail, nil
}

type Stats struct {
	Topics      int `json:"topics"`
	Subscribers int `json:"subscribers"`
	CachedRooms int `json:"cached_rooms"`
	LockedRooms int `json:"locked_rooms"`
}

func (s *RoomService) Stats() Stats {
	bs := s.broker.Stats()
	return Stats{
		Topics:      bs.Topics,
		Subscribers: bs.Subscribers,
		CachedRooms: s.cache.Len(),
		LockedRooms: s.gate.Len(),
	}
}

func (s *RoomService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// fail classifies a failed mutation and drops the cached snapshot, which
// may no longer match the store.
func (s *RoomService) fail(code, op string, err error) error {
	err = mapStoreErr(err)
	fields := log.Fields{"room": code, "op": op, "code": errs.CodeOf(err)}
	switch errs.KindOf(err) {
	case errs.KindPersistence:
		s.cache.Invalidate(code)
		log.WithFields(fields).WithError(err).Error("room mutation failed")
	case errs.KindConcurrency:
		s.cache.Invalidate(code)
		log.WithFields(fields).Warn("room mutation lost a race")
	default:
		log.WithFields(fields).Debug("room mutation rejected")
	}
	return err
}

func (s *RoomService) publish(eventType, code string, payload any) {
	evt, err := comm.NewEvent(eventType, code, payload)
	if err != nil {
		log.WithError(err).Errorf("encode %s event for room %s", eventType, code)
		return
	}
	s.broker.Publish(evt)
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRoomNotFound):
		return errs.ErrNotFound
	case errors.Is(err, store.ErrStaleWrite):
		return errs.Wrap(errs.ErrConcurrencyConflict, err)
	}
	return errs.Persistence(err)
}

func indexOfPlayer(players []models.Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}
